// Package s2s defines the Provider interface for speech-to-speech AI backends.
//
// An s2s provider wraps a real-time voice AI service that accepts raw audio
// input and returns synthesised audio output in a single, stateful session,
// no separate STT → LLM → TTS stages. The relay feeds it 16 kHz PCM from the
// telephony leg and plays back the 24 kHz PCM it returns.
//
// The central abstraction is SessionHandle: a bidirectional, multiplexed
// channel that carries audio, transcripts, and tool calls concurrently.
// Sessions live for the duration of one phone call.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"

	"github.com/MrWong99/trunkline/pkg/types"
)

// ToolCallHandler is a callback invoked by the session whenever the model
// requests a tool call. The handler receives the tool name and a JSON-encoded
// arguments string and must return either a result string (sent back as the
// tool response payload) or an error, which the session reports to the model
// as an error-shaped result.
//
// Handlers may block on network I/O; sessions invoke them off the receive
// goroutine so a slow tool call never stalls audio in either direction.
type ToolCallHandler func(name string, args string) (string, error)

// ContextItem is a text turn injected into the session's rolling context.
// The relay uses it for the greeting kickstart; it also carries caller
// metadata the agent should know before speaking.
type ContextItem struct {
	// Role is the speaker role: "system", "user", or "assistant".
	Role string

	// Content is the text content of the turn.
	Content string
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Voice selects the provider voice used for synthesised speech.
	Voice string

	// Instructions is the system-level prompt defining the agent's role,
	// tone, and constraints.
	Instructions string

	// Tools is the set of tool definitions declared at session setup. Tool
	// calls are surfaced via the handler set with OnToolCall.
	Tools []types.ToolDefinition
}

// Capabilities describes static properties of an s2s provider.
type Capabilities struct {
	// ContextWindow is the maximum token count (or provider-equivalent
	// unit) the model can maintain across the session.
	ContextWindow int

	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented
	// limit.
	MaxSessionDurationMs int

	// Voices lists the voice names available for this provider.
	Voices []string
}

// SessionHandle represents an open s2s session. It is an interface so relay
// tests can supply scripted implementations without a live connection.
//
// The session is the hot path of a call; every method must return quickly.
// Audio I/O is channel-based so neither socket blocks the other. All methods
// must be safe for concurrent use. Callers must call Close when done.
type SessionHandle interface {
	// Ready returns a channel that is closed once the provider has
	// acknowledged session setup. No audio may be sent before then; chunks
	// sent earlier would race the setup handshake and be discarded
	// upstream.
	Ready() <-chan struct{}

	// SendAudio delivers one 16 kHz little-endian PCM chunk to the model.
	// Returns an error if the session is closed or the transport fails.
	SendAudio(chunk []byte) error

	// Audio returns a read-only channel emitting 24 kHz PCM chunks as the
	// model speaks. The channel is closed when the session ends; call Err
	// afterwards to check whether the end was clean. Consumers must drain
	// promptly so backpressure cannot stall the receive loop.
	Audio() <-chan []byte

	// Interrupted returns a channel receiving a signal each time the model
	// abandons its current response because the caller spoke over it. Any
	// model audio already buffered downstream should be flushed.
	Interrupted() <-chan struct{}

	// Transcripts returns a read-only channel emitting transcription
	// fragments for both sides of the conversation. Closed when the
	// session ends.
	Transcripts() <-chan types.Transcript

	// OnToolCall registers the handler invoked for model tool calls. Only
	// one handler is active at a time; registering again replaces it, nil
	// clears it.
	OnToolCall(handler ToolCallHandler)

	// InjectTextContext inserts text turns into the session's rolling
	// context, e.g. the greeting kickstart that makes the agent speak
	// first.
	InjectTextContext(items []ContextItem) error

	// Err returns the error that ended the session prematurely, or nil
	// after a clean shutdown.
	Err() error

	// Close terminates the session, releases all resources, and closes the
	// Audio and Transcripts channels. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Provider is the abstraction over any s2s backend.
//
// Implementations must be safe for concurrent use: the server opens one
// session per simultaneous phone call.
type Provider interface {
	// Connect establishes a new session with the given configuration and
	// sends the setup message. The returned handle is live but not yet
	// ready; wait on Ready before sending audio.
	//
	// The context bounds connection establishment only, not the session
	// lifetime.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() Capabilities
}
