// Package calllog defines persistent storage for call records.
//
// Every bridged call produces one [CallRecord]: identifiers, timing, frame
// accounting, the spoken transcript, every tool invocation made on the
// caller's behalf, and an optional post-call summary. The [Store] interface
// is small on purpose; writes happen live during a call, reads happen from
// operational tooling afterwards.
//
// Two backends are provided: postgres (pgx connection pool, JSONB tool
// payloads) and sqlite (zero-config default, file or in-memory DSN). The
// mock sub-package records everything in memory for tests.
//
// Every implementation must be safe for concurrent use.
package calllog

import (
	"context"
	"encoding/json"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Record types
// ─────────────────────────────────────────────────────────────────────────────

// Outcome classifies how a call ended.
type Outcome string

const (
	// OutcomeCompleted marks a call that ran to an orderly stop.
	OutcomeCompleted Outcome = "completed"

	// OutcomeFailed marks a call torn down by a transport or session error.
	OutcomeFailed Outcome = "failed"
)

// TranscriptEntry is one utterance within a call, attributed to a speaker.
type TranscriptEntry struct {
	// Speaker identifies who produced the text, "caller" or "agent".
	Speaker string

	// Text is the transcribed utterance.
	Text string

	// Timestamp is when the utterance was produced.
	Timestamp time.Time
}

// ToolInvocation records one tool call dispatched during a call, including
// the raw argument and result payloads for later auditing.
type ToolInvocation struct {
	// Tool is the tool name, e.g. "CreateBooking".
	Tool string

	// Arguments is the JSON argument object the model supplied.
	Arguments json.RawMessage

	// Result is the JSON payload returned to the model. Failed invocations
	// carry an error-shaped payload here.
	Result json.RawMessage

	// Succeeded is false when Result is error-shaped.
	Succeeded bool

	// Duration is how long the invocation took end to end.
	Duration time.Duration

	// Timestamp is when the invocation started.
	Timestamp time.Time
}

// CallEnd carries the final accounting for a finished call.
type CallEnd struct {
	// EndedAt is when the call ended.
	EndedAt time.Time

	// Outcome classifies the ending.
	Outcome Outcome

	// FramesForwarded counts audio frames relayed in both directions.
	FramesForwarded int64

	// FramesDropped counts frames discarded due to buffer pressure or
	// malformed payloads.
	FramesDropped int64
}

// CallRecord is the persistent record of one call.
type CallRecord struct {
	// ID is the unique call identifier (the media stream id).
	ID string

	// CallSID is the telephony provider's call identifier, when known.
	CallSID string

	// StartedAt is when the call began.
	StartedAt time.Time

	// EndedAt is when the call ended. Zero while the call is still active.
	EndedAt time.Time

	// Outcome classifies how the call ended. Empty while active.
	Outcome Outcome

	// FramesForwarded and FramesDropped are the final frame counts.
	FramesForwarded int64
	FramesDropped   int64

	// Transcript is the time-ordered list of utterances.
	Transcript []TranscriptEntry

	// ToolCalls is the time-ordered list of tool invocations.
	ToolCalls []ToolInvocation

	// Summary is the post-call natural-language summary, when generated.
	Summary string
}

// ─────────────────────────────────────────────────────────────────────────────
// Store interface
// ─────────────────────────────────────────────────────────────────────────────

// Store persists call records.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// StartCall opens a new call record. id must be non-empty and unique;
	// callSID may be empty when the telephony provider did not supply one.
	StartCall(ctx context.Context, id, callSID string, startedAt time.Time) error

	// EndCall finalizes the record for id with the supplied accounting.
	// Returns an error when no call with that id exists.
	EndCall(ctx context.Context, id string, end CallEnd) error

	// AppendTranscript appends one utterance to the call's transcript.
	AppendTranscript(ctx context.Context, id string, entry TranscriptEntry) error

	// RecordToolCall appends one tool invocation to the call's record.
	RecordToolCall(ctx context.Context, id string, inv ToolInvocation) error

	// SetSummary stores the post-call summary for id.
	// Returns an error when no call with that id exists.
	SetSummary(ctx context.Context, id, summary string) error

	// GetCall retrieves the full record for id, transcript and tool calls
	// included. Returns (nil, nil) when no call with that id exists.
	GetCall(ctx context.Context, id string) (*CallRecord, error)

	// ListCalls returns call records ordered most recent first, capped at
	// limit (implementations apply their own default when limit <= 0).
	// Transcript and ToolCalls are not populated; use GetCall for the
	// full record. Returns an empty (non-nil) slice when the log is empty.
	ListCalls(ctx context.Context, limit int) ([]CallRecord, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
