package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/trunkline/internal/bridge"
	"github.com/MrWong99/trunkline/internal/calllog"
	"github.com/MrWong99/trunkline/internal/observe"
	"github.com/MrWong99/trunkline/internal/scheduling"
	"github.com/MrWong99/trunkline/pkg/phone"
	"github.com/MrWong99/trunkline/pkg/provider/s2s"
	"github.com/MrWong99/trunkline/pkg/types"
)

// drainTimeout bounds how long Run waits for in-flight calls once the run
// context is cancelled.
const drainTimeout = 10 * time.Second

// storeWriteTimeout bounds each call-log write made from an observer hook.
// Writes use a background context so a dropped call cannot cancel its own
// record.
const storeWriteTimeout = 5 * time.Second

// postCallTimeout bounds the whole post-call pipeline: final record write,
// summarisation, notification lookup.
const postCallTimeout = 30 * time.Second

// Run serves the media and ops listeners until ctx is cancelled or a listener
// fails, then drains in-flight calls. Call [App.Shutdown] afterwards to
// release the remaining resources.
func (a *App) Run(ctx context.Context) error {
	mediaLn, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen media %s: %w", a.cfg.Server.ListenAddr, err)
	}
	opsLn, err := net.Listen("tcp", a.cfg.Server.OpsListenAddr)
	if err != nil {
		mediaLn.Close()
		return fmt.Errorf("app: listen ops %s: %w", a.cfg.Server.OpsListenAddr, err)
	}
	a.addrMu.Lock()
	a.mediaAddr = mediaLn.Addr().String()
	a.opsAddr = opsLn.Addr().String()
	a.addrMu.Unlock()

	mediaSrv := &http.Server{Handler: a.mediaHandler(), ReadHeaderTimeout: 10 * time.Second}
	opsSrv := &http.Server{Handler: a.opsHandler(), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(mediaSrv, mediaLn, "media") })
	g.Go(func() error { return serve(opsSrv, opsLn, "ops") })
	g.Go(func() error {
		<-gctx.Done()
		a.drain(mediaSrv, opsSrv)
		return nil
	})

	slog.Info("trunkline listening",
		"media_addr", a.MediaAddr(),
		"media_path", a.cfg.Server.MediaPath,
		"ops_addr", a.OpsAddr(),
	)
	return g.Wait()
}

func serve(srv *http.Server, ln net.Listener, name string) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: %s server: %w", name, err)
	}
	return nil
}

// drain stops the listeners, then unwinds the in-flight calls. Server
// Shutdown does not wait for hijacked WebSocket connections; cancelling each
// call's context is what actually ends them.
func (a *App) drain(servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("server shutdown", "error", err)
		}
	}
	a.calls.cancelAll()
	if err := a.calls.wait(ctx); err != nil {
		slog.Warn("calls still draining at shutdown deadline", "active", a.calls.active())
	}
}

func (a *App) mediaHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Server.MediaPath, phone.NewServer(a.handleCall))
	return mux
}

func (a *App) opsHandler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	return observe.Middleware(a.met)(mux)
}

// handleCall relays one telephony call. It snapshots the hot-reloadable
// config so a mid-call reload cannot change a call's behaviour, runs the
// relay, then drives the post-call pipeline.
func (a *App) handleCall(ctx context.Context, call *phone.Call) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	id := a.calls.add(cancel)
	defer a.calls.remove(id)

	callCtx, span := observe.StartSpan(callCtx, "call")
	defer span.End()
	log := observe.Logger(callCtx)

	a.mu.RLock()
	agent, ai, provider := a.agent, a.ai, a.provider
	a.mu.RUnlock()

	obs := &callObserver{app: a, log: log}
	relay := bridge.New(call, bridge.Config{
		Provider:       provider,
		Voice:          ai.Voice,
		Instructions:   agent.SystemInstruction,
		Tools:          a.tools.Declarations(),
		OnToolCall:     a.toolHandler(obs),
		Greeting:       agent.Greeting,
		GreetingPrompt: agent.GreetingPrompt,
		BufferFrames:   agent.BufferFrames,
		ConnectTimeout: agent.ConnectTimeout(),
		Observer:       obs,
		Metrics:        a.met,
	})

	if err := relay.Run(callCtx); err != nil {
		log.Warn("call relay ended with error", "stream_sid", obs.streamSid(), "error", err)
	}
	a.finishCall(obs, relay)
}

// toolHandler builds the per-call tool dispatch callback. The registry's
// payload is returned to the session verbatim, success or not, so the model
// can voice failures; the error return stays nil. Invocations are metered and
// written to the call log here, where the outcome is known.
func (a *App) toolHandler(obs *callObserver) s2s.ToolCallHandler {
	return func(name, args string) (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), a.tools.CallTimeout())
		defer cancel()

		start := time.Now()
		payload, ok := a.tools.Execute(ctx, name, args)
		elapsed := time.Since(start)

		status := "ok"
		if !ok {
			status = "error"
		}
		a.met.RecordToolCall(ctx, name, status, elapsed)

		if a.store != nil {
			if id := obs.streamSid(); id != "" {
				raw := args
				if raw == "" {
					raw = "{}"
				}
				inv := calllog.ToolInvocation{
					Tool:      name,
					Arguments: json.RawMessage(raw),
					Result:    payload,
					Succeeded: ok,
					Duration:  elapsed,
					Timestamp: start,
				}
				wctx, wcancel := context.WithTimeout(context.Background(), storeWriteTimeout)
				if err := a.store.RecordToolCall(wctx, id, inv); err != nil {
					obs.log.Warn("failed to record tool call", "stream_sid", id, "tool", name, "error", err)
				}
				wcancel()
			}
		}

		if ok && name == scheduling.ToolCreateBooking && a.notifier != nil {
			var booking scheduling.Booking
			if err := json.Unmarshal(payload, &booking); err == nil {
				// Posting to Discord must not delay the tool response.
				go a.notifier.BookingCreated(obs.streamSid(), booking)
			}
		}

		return string(payload), nil
	}
}

// finishCall persists the final call state and runs summarisation and
// notification. Nothing here touches the relay's context: a dropped call
// still gets its record closed out.
func (a *App) finishCall(obs *callObserver, relay *bridge.Relay) {
	id, callSID, started, outcome := obs.snapshot()
	if id == "" {
		// No start event arrived, so nothing was recorded for this call.
		return
	}
	forwarded, dropped := relay.FrameStats()

	ctx, cancel := context.WithTimeout(context.Background(), postCallTimeout)
	defer cancel()

	end := calllog.CallEnd{
		EndedAt:         time.Now(),
		Outcome:         storeOutcome(outcome),
		FramesForwarded: forwarded,
		FramesDropped:   dropped,
	}

	rec := calllog.CallRecord{
		ID:              id,
		CallSID:         callSID,
		StartedAt:       started,
		EndedAt:         end.EndedAt,
		Outcome:         end.Outcome,
		FramesForwarded: forwarded,
		FramesDropped:   dropped,
	}
	if a.store != nil {
		if err := a.store.EndCall(ctx, id, end); err != nil {
			obs.log.Warn("failed to record call end", "stream_sid", id, "error", err)
		}
		if a.summariser != nil && end.Outcome == calllog.OutcomeCompleted {
			a.summarise(ctx, obs.log, id)
		}
		if got, err := a.store.GetCall(ctx, id); err != nil {
			obs.log.Warn("failed to load final call record", "stream_sid", id, "error", err)
		} else if got != nil {
			rec = *got
		}
	}

	if a.notifier != nil {
		a.notifier.CallEnded(rec)
	}
}

// summarise condenses the call transcript and stores the result. Calls with
// an empty transcript are skipped.
func (a *App) summarise(ctx context.Context, log *slog.Logger, id string) {
	rec, err := a.store.GetCall(ctx, id)
	if err != nil {
		log.Warn("failed to load transcript for summary", "stream_sid", id, "error", err)
		return
	}
	if rec == nil || len(rec.Transcript) == 0 {
		return
	}
	text, err := a.summariser.Summarise(ctx, rec.Transcript)
	if err != nil {
		log.Warn("transcript summarisation failed", "stream_sid", id, "error", err)
		return
	}
	if err := a.store.SetSummary(ctx, id, text); err != nil {
		log.Warn("failed to store summary", "stream_sid", id, "error", err)
	}
}

// storeOutcome maps a relay outcome label onto the two stored outcomes.
func storeOutcome(outcome string) calllog.Outcome {
	if outcome == "completed" {
		return calllog.OutcomeCompleted
	}
	return calllog.OutcomeFailed
}

// callObserver receives relay lifecycle hooks for a single call and feeds
// them into the store, the metrics, and the call's trace-correlated logger.
// Hooks may arrive on different relay goroutines.
type callObserver struct {
	app *App
	log *slog.Logger

	mu      sync.Mutex
	id      string
	callSID string
	started time.Time
	outcome string
}

func (o *callObserver) streamSid() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id
}

func (o *callObserver) snapshot() (id, callSID string, started time.Time, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id, o.callSID, o.started, o.outcome
}

// CallStarted implements [bridge.Observer].
func (o *callObserver) CallStarted(info phone.StartInfo) {
	now := time.Now()
	o.mu.Lock()
	o.id = info.StreamSid
	o.callSID = info.CallSid
	o.started = now
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	o.app.met.RecordCallStarted(ctx)
	if o.app.store != nil {
		if err := o.app.store.StartCall(ctx, info.StreamSid, info.CallSid, now); err != nil {
			o.log.Warn("failed to record call start", "stream_sid", info.StreamSid, "error", err)
		}
	}
	o.log.Info("call started", "stream_sid", info.StreamSid, "call_sid", info.CallSid)
}

// StateChanged implements [bridge.Observer].
func (o *callObserver) StateChanged(from, to bridge.State) {
	o.log.Debug("call state changed", "stream_sid", o.streamSid(), "from", from.String(), "to", to.String())
}

// TranscriptAdded implements [bridge.Observer].
func (o *callObserver) TranscriptAdded(tr types.Transcript) {
	if o.app.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	entry := calllog.TranscriptEntry{Speaker: tr.Speaker, Text: tr.Text, Timestamp: tr.Timestamp}
	if err := o.app.store.AppendTranscript(ctx, o.streamSid(), entry); err != nil {
		o.log.Warn("failed to record transcript entry", "stream_sid", o.streamSid(), "error", err)
	}
}

// ToolCalled implements [bridge.Observer]. Metrics and persistence happen in
// the dispatch callback; this hook only logs.
func (o *callObserver) ToolCalled(name string, d time.Duration, err error) {
	if err != nil {
		o.log.Warn("tool call failed", "stream_sid", o.streamSid(), "tool", name, "duration", d, "error", err)
		return
	}
	o.log.Debug("tool call relayed", "stream_sid", o.streamSid(), "tool", name, "duration", d)
}

// CallEnded implements [bridge.Observer].
func (o *callObserver) CallEnded(outcome string, d time.Duration) {
	o.mu.Lock()
	o.outcome = outcome
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	o.app.met.RecordCallEnded(ctx, outcome, d)
}
