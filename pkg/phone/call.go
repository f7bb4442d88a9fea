package phone

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ErrCallClosed is returned by send methods after the call has been closed.
var ErrCallClosed = errors.New("phone: call closed")

// ErrNoStream is returned by send methods before the start event has arrived;
// without a stream identifier outbound media cannot be addressed.
var ErrNoStream = errors.New("phone: no stream started")

// Call is one accepted media-stream connection. A receive goroutine parses
// inbound events onto a single channel, preserving arrival order. Malformed
// events are dropped and logged, never fatal to the call.
type Call struct {
	conn   *websocket.Conn
	events chan Event

	mu        sync.Mutex
	errVal    error
	closed    bool
	streamSid string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newCall(conn *websocket.Conn) *Call {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Call{
		conn:   conn,
		events: make(chan Event, 64),
		ctx:    ctx,
		cancel: cancel,
	}
	go c.receiveLoop()
	return c
}

// Events returns the channel on which inbound events arrive. It is closed
// when the connection ends; Err reports the cause if the end was not clean.
func (c *Call) Events() <-chan Event { return c.events }

// receiveLoop reads and parses inbound messages. It owns the events channel
// and closes it on exit.
func (c *Call) receiveLoop() {
	defer c.closeOnce.Do(func() { close(c.events) })

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			c.setErr(err)
			return
		}

		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("phone: dropping malformed event", "err", err)
			continue
		}

		switch ev.Event {
		case "connected":
			// Handshake preamble, nothing to surface.
		case "start":
			c.handleStart(&ev)
		case "media":
			c.handleMedia(&ev)
		case "stop":
			c.emit(Event{Kind: EventStop, StreamSid: ev.StreamSid})
		default:
			// mark, dtmf and future event types are irrelevant to the relay.
		}
	}
}

func (c *Call) handleStart(ev *streamEvent) {
	if ev.Start == nil || ev.StreamSid == "" {
		slog.Debug("phone: dropping start event without stream identifier")
		return
	}

	c.mu.Lock()
	c.streamSid = ev.StreamSid
	c.mu.Unlock()

	c.emit(Event{
		Kind:      EventStart,
		StreamSid: ev.StreamSid,
		Start: &StartInfo{
			StreamSid:  ev.StreamSid,
			AccountSid: ev.Start.AccountSid,
			CallSid:    ev.Start.CallSid,
			MediaFormat: MediaFormat{
				Encoding:   ev.Start.MediaFormat.Encoding,
				SampleRate: ev.Start.MediaFormat.SampleRate,
				Channels:   ev.Start.MediaFormat.Channels,
			},
			CustomParameters: ev.Start.CustomParameters,
		},
	})
}

func (c *Call) handleMedia(ev *streamEvent) {
	if ev.Media == nil {
		slog.Debug("phone: dropping media event without payload")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
	if err != nil {
		slog.Debug("phone: dropping media event with invalid base64", "err", err)
		return
	}
	c.emit(Event{Kind: EventMedia, StreamSid: ev.StreamSid, Payload: payload})
}

func (c *Call) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// SendMedia encodes one companded frame as an outbound media event. Returns
// ErrNoStream before start and ErrCallClosed after Close.
func (c *Call) SendMedia(payload []byte) error {
	sid, err := c.sendableStream()
	if err != nil {
		return err
	}
	return c.writeJSON(outEvent{
		Event:     "media",
		StreamSid: sid,
		Media:     &outMedia{Payload: base64.StdEncoding.EncodeToString(payload)},
	})
}

// SendClear asks the provider to drop any buffered outbound audio. Used when
// the caller interrupts the agent so stale speech is not played out.
func (c *Call) SendClear() error {
	sid, err := c.sendableStream()
	if err != nil {
		return err
	}
	return c.writeJSON(outEvent{Event: "clear", StreamSid: sid})
}

func (c *Call) sendableStream() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrCallClosed
	}
	if c.streamSid == "" {
		return "", ErrNoStream
	}
	return c.streamSid, nil
}

func (c *Call) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("phone: marshal: %w", err)
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("phone: write: %w", err)
	}
	return nil
}

// StreamSid returns the stream identifier, or "" before the start event.
func (c *Call) StreamSid() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamSid
}

// Err returns the first error that terminated the receive loop, if any.
func (c *Call) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

func (c *Call) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

// Close tears down the connection and unblocks the receive loop. Idempotent.
func (c *Call) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "call ended")
	return nil
}
