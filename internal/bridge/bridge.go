// Package bridge relays audio between one telephony call and one AI session,
// transcoding in both directions and surfacing the model's tool calls. One
// Relay serves exactly one call; relays share nothing mutable, so concurrent
// calls scale by running more of them.
//
// The relay owns the call lifecycle state machine (Idle, Connecting, Active,
// Closing, Closed) and pumps each audio direction on a single goroutine, so
// frames within a direction are forwarded in strict arrival order.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/trunkline/internal/config"
	"github.com/MrWong99/trunkline/internal/observe"
	"github.com/MrWong99/trunkline/pkg/audio"
	"github.com/MrWong99/trunkline/pkg/phone"
	"github.com/MrWong99/trunkline/pkg/provider/s2s"
	"github.com/MrWong99/trunkline/pkg/types"
)

const defaultBufferFrames = 100

// errCallEnded flows through the errgroup to unwind the sibling pumps after
// a clean end of call. It never escapes Run.
var errCallEnded = errors.New("bridge: call ended")

// transportError tags a pump failure with the leg that failed so the call
// outcome and metrics attributes can be derived without string matching.
type transportError struct {
	Side string // "telephony" or "ai"
	Err  error
}

func (e *transportError) Error() string { return e.Side + " transport: " + e.Err.Error() }
func (e *transportError) Unwrap() error { return e.Err }

// Config carries everything a Relay needs for one call. The app layer
// snapshots it when the call is accepted, so a config reload never changes a
// call in flight.
type Config struct {
	// Provider dials the AI session once the telephony start event arrives.
	Provider s2s.Provider

	// Voice, Instructions and Tools populate the session setup message.
	Voice        string
	Instructions string
	Tools        []types.ToolDefinition

	// OnToolCall handles the model's tool calls. Usually a tools.Registry
	// handler; nil leaves tool calls unanswered.
	OnToolCall s2s.ToolCallHandler

	// Greeting selects who speaks first. The zero value behaves as
	// agent_first: GreetingPrompt is injected as a user turn once the
	// session is ready so the agent opens the conversation.
	Greeting       config.GreetingMode
	GreetingPrompt string

	// BufferFrames bounds the caller audio queued while the session is
	// connecting. Zero or negative selects the default of 100 frames.
	BufferFrames int

	// ConnectTimeout bounds both the session dial and the wait for the
	// ready acknowledgment. Zero disables the watchdog.
	ConnectTimeout time.Duration

	// Observer receives lifecycle notifications. Nil means NopObserver.
	Observer Observer

	// Metrics receives frame and transport instrumentation. Nil selects the
	// process-wide default.
	Metrics *observe.Metrics

	// Logger is the base logger. Nil means slog.Default.
	Logger *slog.Logger
}

// Relay drives one phone call against one AI session. Create with New, run
// with Run; a Relay is single use.
type Relay struct {
	cfg  Config
	call *phone.Call

	mu      sync.Mutex
	state   State
	session s2s.SessionHandle

	closeOnce sync.Once
	started   time.Time

	framesForwarded atomic.Int64
	framesDropped   atomic.Int64

	obs Observer
	met *observe.Metrics
	log *slog.Logger
}

// New returns a relay for the given call. Run must be called to start it.
func New(call *phone.Call, cfg Config) *Relay {
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = defaultBufferFrames
	}
	r := &Relay{
		cfg:  cfg,
		call: call,
		obs:  cfg.Observer,
		met:  cfg.Metrics,
		log:  cfg.Logger,
	}
	if r.obs == nil {
		r.obs = NopObserver{}
	}
	if r.met == nil {
		r.met = observe.DefaultMetrics()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// State returns the relay's current lifecycle state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// FrameStats reports how many media frames the relay has forwarded and
// dropped across both directions. Safe to call at any time, including after
// Run has returned.
func (r *Relay) FrameStats() (forwarded, dropped int64) {
	return r.framesForwarded.Load(), r.framesDropped.Load()
}

func (r *Relay) noteForwarded(ctx context.Context, direction string) {
	r.framesForwarded.Add(1)
	r.met.RecordFrameForwarded(ctx, direction)
}

func (r *Relay) noteDropped(ctx context.Context, direction, reason string) {
	r.framesDropped.Add(1)
	r.met.RecordFrameDropped(ctx, direction, reason)
}

// Run executes the call to completion: it waits for the telephony start
// event, dials the AI session, pumps audio both ways, and tears everything
// down when either side ends. It returns once the relay is finished; the
// error is nil for a cleanly completed call.
//
// Cancelling ctx aborts the call and releases both legs.
func (r *Relay) Run(ctx context.Context) error {
	info, err := r.awaitStart(ctx)
	if err != nil {
		return err
	}
	if info == nil {
		// The call ended before it began. No AI session was dialled and
		// the state machine never left Idle.
		r.log.Debug("call ended before start event")
		return nil
	}

	r.started = time.Now()
	r.log = r.log.With("stream_sid", info.StreamSid)
	r.obs.CallStarted(*info)
	r.toState(StateConnecting)

	session, err := r.connect(ctx)
	if err != nil {
		r.finish(ctx, "setup_failed", err)
		return fmt.Errorf("bridge: ai session setup: %w", err)
	}
	r.mu.Lock()
	r.session = session
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.uplink(gctx) })
	g.Go(func() error { return r.downlink(gctx) })
	g.Go(func() error { return r.forwardTranscripts(gctx) })

	outcome, runErr := classify(g.Wait())
	r.finish(ctx, outcome, runErr)
	return runErr
}

// awaitStart consumes telephony events until the start event arrives. It
// returns (nil, nil) when the call ends first and a non-nil error only for
// transport failures or context cancellation.
func (r *Relay) awaitStart(ctx context.Context) (*phone.StartInfo, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-r.call.Events():
			if !ok {
				if err := r.call.Err(); err != nil {
					return nil, fmt.Errorf("bridge: telephony transport before start: %w", err)
				}
				return nil, nil
			}
			switch ev.Kind {
			case phone.EventStart:
				return ev.Start, nil
			case phone.EventStop:
				return nil, nil
			case phone.EventMedia:
				// No stream identifier yet, so there is nowhere to route
				// this. Providers do not send media before start.
				r.log.Debug("dropping media event before start")
			}
		}
	}
}

// connect dials the AI session and registers the tool-call handler. The
// configured timeout bounds the dial; the ready wait is watched separately
// by the uplink pump.
func (r *Relay) connect(ctx context.Context) (s2s.SessionHandle, error) {
	dialCtx := ctx
	if r.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, r.cfg.ConnectTimeout)
		defer cancel()
	}

	start := time.Now()
	session, err := r.cfg.Provider.Connect(dialCtx, s2s.SessionConfig{
		Voice:        r.cfg.Voice,
		Instructions: r.cfg.Instructions,
		Tools:        r.cfg.Tools,
	})
	if err != nil {
		return nil, err
	}
	r.met.RecordSessionConnect(ctx, time.Since(start))

	if r.cfg.OnToolCall != nil {
		session.OnToolCall(r.observedToolHandler(r.cfg.OnToolCall))
	}
	return session, nil
}

// observedToolHandler wraps the configured tool handler so the observer sees
// every dispatch with its latency. It runs on the session's tool-call
// goroutine.
func (r *Relay) observedToolHandler(h s2s.ToolCallHandler) s2s.ToolCallHandler {
	return func(name, args string) (string, error) {
		start := time.Now()
		result, err := h(name, args)
		r.obs.ToolCalled(name, time.Since(start), err)
		return result, err
	}
}

// uplink pumps caller audio into the AI session: telephony media frames are
// transcoded to 16 kHz PCM and either buffered (while the session is still
// connecting) or sent directly. It is the only goroutine that touches the
// pre-ready ring, so uplink ordering is structural.
func (r *Relay) uplink(ctx context.Context) error {
	ring := newFrameRing(r.cfg.BufferFrames)
	readyCh := r.session.Ready()

	var watchdog <-chan time.Time
	if r.cfg.ConnectTimeout > 0 {
		t := time.NewTimer(r.cfg.ConnectTimeout)
		defer t.Stop()
		watchdog = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-watchdog:
			return &transportError{Side: "ai", Err: errors.New("session ready timeout")}

		case <-readyCh:
			readyCh = nil
			watchdog = nil
			if err := r.activate(ctx, ring); err != nil {
				return err
			}

		case ev, ok := <-r.call.Events():
			if !ok {
				if err := r.call.Err(); err != nil {
					return &transportError{Side: "telephony", Err: err}
				}
				return errCallEnded
			}
			switch ev.Kind {
			case phone.EventMedia:
				chunk := audio.UplinkPCM(ev.Payload)
				if len(chunk) == 0 {
					continue
				}
				if readyCh != nil {
					if ring.Push(chunk) {
						r.noteDropped(ctx, "inbound", "overflow")
					}
					continue
				}
				if err := r.sendAudio(chunk); err != nil {
					return err
				}
				r.noteForwarded(ctx, "inbound")
			case phone.EventStop:
				return errCallEnded
			case phone.EventStart:
				r.log.Debug("ignoring duplicate start event")
			}
		}
	}
}

// activate runs once the session acknowledges setup: inject the greeting
// kickstart, flush the buffered caller audio in arrival order, and move to
// Active. Newer frames are only forwarded after the flush.
func (r *Relay) activate(ctx context.Context, ring *frameRing) error {
	if r.cfg.Greeting != config.GreetingCallerFirst && r.cfg.GreetingPrompt != "" {
		items := []s2s.ContextItem{{Role: "user", Content: r.cfg.GreetingPrompt}}
		if err := r.session.InjectTextContext(items); err != nil {
			return &transportError{Side: "ai", Err: fmt.Errorf("greeting kickstart: %w", err)}
		}
	}

	for _, chunk := range ring.Drain() {
		if err := r.sendAudio(chunk); err != nil {
			return err
		}
		r.noteForwarded(ctx, "inbound")
	}
	if n := ring.Dropped(); n > 0 {
		r.log.Warn("dropped oldest caller audio while session was connecting", "frames", n)
	}

	r.toState(StateActive)
	return nil
}

// sendAudio forwards one PCM chunk, translating a send on a cleanly closed
// session into a clean end of call.
func (r *Relay) sendAudio(chunk []byte) error {
	if err := r.session.SendAudio(chunk); err != nil {
		if r.session.Err() == nil {
			return errCallEnded
		}
		return &transportError{Side: "ai", Err: err}
	}
	return nil
}

// downlink pumps model audio back to the caller: 24 kHz PCM chunks are
// transcoded to companded telephony frames. It also watches for barge-in
// interrupts and clears the provider's playout buffer so stale speech is
// not played over the caller.
func (r *Relay) downlink(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-r.session.Interrupted():
			if err := r.call.SendClear(); err != nil {
				if errors.Is(err, phone.ErrCallClosed) || errors.Is(err, phone.ErrNoStream) {
					continue
				}
				return &transportError{Side: "telephony", Err: err}
			}

		case chunk, ok := <-r.session.Audio():
			if !ok {
				if err := r.session.Err(); err != nil {
					return &transportError{Side: "ai", Err: err}
				}
				return errCallEnded
			}
			frame, err := audio.DownlinkFrame(chunk)
			if err != nil {
				// One bad chunk never ends the call.
				r.noteDropped(ctx, "outbound", "malformed")
				r.log.Debug("dropping malformed model audio chunk", "err", err)
				continue
			}
			if len(frame) == 0 {
				continue
			}
			if err := r.call.SendMedia(frame); err != nil {
				if errors.Is(err, phone.ErrCallClosed) {
					return errCallEnded
				}
				return &transportError{Side: "telephony", Err: err}
			}
			r.noteForwarded(ctx, "outbound")
		}
	}
}

// forwardTranscripts feeds transcription fragments to the observer. It ends
// quietly when the session closes the channel; the audio pumps decide how
// the call ends.
func (r *Relay) forwardTranscripts(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-r.session.Transcripts():
			if !ok {
				return nil
			}
			r.obs.TranscriptAdded(tr)
		}
	}
}

// toState performs a lifecycle transition, notifying the observer. Requests
// outside the legal set are ignored and logged.
func (r *Relay) toState(to State) {
	r.mu.Lock()
	from := r.state
	if !legalTransition(from, to) {
		r.mu.Unlock()
		r.log.Debug("ignoring illegal state transition", "from", from, "to", to)
		return
	}
	r.state = to
	r.mu.Unlock()

	r.obs.StateChanged(from, to)
}

// finish releases both legs and lands the state machine on Closed exactly
// once, no matter how many paths race into teardown. Frames that sockets
// deliver after this point go nowhere, by design of the pumps having
// already exited.
func (r *Relay) finish(ctx context.Context, outcome string, cause error) {
	r.closeOnce.Do(func() {
		r.toState(StateClosing)

		r.mu.Lock()
		session := r.session
		r.mu.Unlock()
		if session != nil {
			if err := session.Close(); err != nil {
				r.log.Debug("ai session close", "err", err)
			}
		}
		r.call.Close()

		r.toState(StateClosed)

		var te *transportError
		if errors.As(cause, &te) {
			r.met.RecordTransportError(ctx, te.Side)
		}

		duration := time.Since(r.started)
		r.obs.CallEnded(outcome, duration)
		r.log.Info("call ended", "outcome", outcome, "duration", duration.Round(time.Millisecond))
	})
}

// classify maps the first pump error to a call outcome label and the error
// Run should report.
func classify(err error) (outcome string, runErr error) {
	switch {
	case err == nil, errors.Is(err, errCallEnded):
		return "completed", nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled", err
	}
	var te *transportError
	if errors.As(err, &te) {
		return te.Side + "_error", err
	}
	return "error", err
}
