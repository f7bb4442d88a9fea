package bridge

// State is a relay's position in the call lifecycle. A relay is single use
// and only ever moves forward.
type State int

const (
	// StateIdle is the initial state: the telephony connection is accepted
	// but no stream identifier has arrived and no AI session exists. A call
	// that never sends start stays Idle and forwards nothing.
	StateIdle State = iota

	// StateConnecting means start has arrived and the AI session is being
	// established.
	StateConnecting

	// StateActive means both legs are live and audio flows in both
	// directions.
	StateActive

	// StateClosing means teardown has begun and the peers are being
	// released.
	StateClosing

	// StateClosed is terminal. Both connections are gone and any late frame
	// is silently dropped.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// legalTransition reports whether from → to is part of the lifecycle. The
// relay ignores (and logs) any request outside this set.
func legalTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateConnecting
	case StateConnecting:
		return to == StateActive || to == StateClosing
	case StateActive:
		return to == StateClosing
	case StateClosing:
		return to == StateClosed
	}
	return false
}
