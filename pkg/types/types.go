// Package types defines the shared types used across all Trunkline packages.
//
// These types form the lingua franca between the telephony leg, the AI session
// leg, and the call log. They are intentionally minimal; each package defines
// its own domain types, but cross-cutting data structures live here to avoid
// circular imports.
package types

import "time"

// Transcript is a single utterance transcription produced during a live call.
// The AI session reports both sides of the conversation; no local speech
// recognition is involved.
type Transcript struct {
	// Speaker identifies who spoke: "caller" for the telephony side,
	// "agent" for the AI side.
	Speaker string

	// Text is the transcribed speech content.
	Text string

	// Timestamp is when the fragment was received.
	Timestamp time.Time
}

// ToolCall represents a function invocation requested by the AI session.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool offered to the AI session at setup.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in the session setup).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}
