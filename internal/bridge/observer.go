package bridge

import (
	"time"

	"github.com/MrWong99/trunkline/pkg/phone"
	"github.com/MrWong99/trunkline/pkg/types"
)

// Observer receives lifecycle notifications from a relay. The relay takes
// exactly one observer; callers that want several consumers compose a
// fan-out themselves.
//
// Hooks may be invoked from different relay goroutines (ToolCalled in
// particular runs on the session's tool-call goroutine), so implementations
// must be safe for concurrent use. Hooks must return quickly; anything slow
// belongs on the observer's own goroutine.
type Observer interface {
	// CallStarted fires once when the telephony start event arrives,
	// before the AI session is dialled.
	CallStarted(info phone.StartInfo)

	// StateChanged fires on every legal lifecycle transition.
	StateChanged(from, to State)

	// TranscriptAdded fires for each transcription fragment from either
	// speaker, in arrival order.
	TranscriptAdded(tr types.Transcript)

	// ToolCalled fires after each tool-call handler invocation completes.
	ToolCalled(name string, duration time.Duration, err error)

	// CallEnded fires exactly once when the relay reaches Closed, or when a
	// setup failure aborts the call. It never fires for a call that stayed
	// Idle.
	CallEnded(outcome string, duration time.Duration)
}

// NopObserver is an Observer that ignores every notification. Embed it to
// implement only the hooks of interest.
type NopObserver struct{}

func (NopObserver) CallStarted(phone.StartInfo)             {}
func (NopObserver) StateChanged(State, State)               {}
func (NopObserver) TranscriptAdded(types.Transcript)        {}
func (NopObserver) ToolCalled(string, time.Duration, error) {}
func (NopObserver) CallEnded(string, time.Duration)         {}
