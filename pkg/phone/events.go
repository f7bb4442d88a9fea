package phone

// Wire-level message shapes for the telephony media-stream protocol. All
// traffic is JSON over a single WebSocket: the provider pushes connected,
// start, media and stop events; the server answers with media and clear.

type streamEvent struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *startPayload `json:"start,omitempty"`
	Media          *mediaPayload `json:"media,omitempty"`
	Stop           *stopPayload  `json:"stop,omitempty"`
}

type startPayload struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      wireMediaFormat   `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters"`
}

type wireMediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // base64 μ-law
}

type stopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type outEvent struct {
	Event     string    `json:"event"`
	StreamSid string    `json:"streamSid,omitempty"`
	Media     *outMedia `json:"media,omitempty"`
}

type outMedia struct {
	Payload string `json:"payload"` // base64 μ-law
}

// EventKind discriminates the events surfaced to a call handler.
type EventKind int

const (
	// EventStart signals the provider has begun streaming and carries the
	// stream identifier plus call metadata.
	EventStart EventKind = iota + 1
	// EventMedia carries one frame of companded audio.
	EventMedia
	// EventStop signals the provider has ended the call.
	EventStop
)

// String returns the event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventMedia:
		return "media"
	case EventStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Event is one parsed inbound message. Media payloads arrive base64-decoded;
// frame boundaries are preserved exactly as the provider sent them.
type Event struct {
	Kind      EventKind
	StreamSid string

	// Payload holds the raw μ-law bytes of a media event.
	Payload []byte

	// Start holds call metadata on a start event.
	Start *StartInfo
}

// StartInfo is the call metadata delivered with a start event.
type StartInfo struct {
	StreamSid  string
	AccountSid string
	CallSid    string

	// MediaFormat declares the encoding of subsequent media payloads,
	// e.g. audio/x-mulaw at 8000 Hz mono.
	MediaFormat MediaFormat

	// CustomParameters carries provider-configured key/value pairs.
	CustomParameters map[string]string
}

// MediaFormat describes the companded audio format announced at start.
type MediaFormat struct {
	Encoding   string
	SampleRate int
	Channels   int
}
