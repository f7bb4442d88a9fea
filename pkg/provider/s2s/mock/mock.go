// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and feed controlled AI sessions.
// Use Session to drive the bidirectional audio/transcript streams and inspect
// which methods were invoked by the bridge.
//
// Example:
//
//	sess := mock.NewSession()
//	sess.MarkReady()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.AudioCh <- pcmChunk
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/trunkline/pkg/provider/s2s"
	"github.com/MrWong99/trunkline/pkg/types"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a fresh Session that is already marked ready.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	sess := NewSession()
	sess.MarkReady()
	return sess, nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// Calls returns a snapshot of the recorded Connect invocations. Thread-safe,
// so tests may poll it while the bridge is still running.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
	p.CapabilitiesCallCount = 0
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// InjectTextContextCall records a single invocation of Session.InjectTextContext.
type InjectTextContextCall struct {
	// Items is a copy of the context items passed to InjectTextContext.
	Items []s2s.ContextItem
}

// Session is a mock implementation of s2s.SessionHandle.
// Callers own AudioCh, TranscriptsCh and InterruptedCh: push into them to
// simulate model output, close AudioCh to signal end-of-session.
type Session struct {
	mu sync.Mutex

	// AudioCh is the channel returned by Audio(). Callers own this channel.
	AudioCh chan []byte

	// TranscriptsCh is the channel returned by Transcripts(). Callers own this
	// channel.
	TranscriptsCh chan types.Transcript

	// InterruptedCh is the channel returned by Interrupted(). Callers own this
	// channel.
	InterruptedCh chan struct{}

	// ReadyCh is the channel returned by Ready(). Close it, or call
	// MarkReady, to simulate the provider's setup acknowledgement.
	ReadyCh chan struct{}

	readyOnce sync.Once

	// toolCallHandler is the currently registered ToolCallHandler.
	toolCallHandler s2s.ToolCallHandler

	// --- Configurable errors ---

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// InjectTextContextErr, if non-nil, is returned by every InjectTextContext call.
	InjectTextContextErr error

	// ErrVal is returned by Err.
	ErrVal error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// InjectTextContextCalls records every call to InjectTextContext in order.
	InjectTextContextCalls []InjectTextContextCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// OnToolCallSetCount is the number of times OnToolCall was called.
	OnToolCallSetCount int
}

// NewSession returns a Session with all channels wired and buffered. The
// session is not yet ready; call MarkReady to simulate the setup ack.
func NewSession() *Session {
	return &Session{
		AudioCh:       make(chan []byte, 64),
		TranscriptsCh: make(chan types.Transcript, 16),
		InterruptedCh: make(chan struct{}, 1),
		ReadyCh:       make(chan struct{}),
	}
}

// MarkReady closes ReadyCh. Safe to call multiple times.
func (s *Session) MarkReady() {
	s.readyOnce.Do(func() {
		if s.ReadyCh != nil {
			close(s.ReadyCh)
		}
	})
}

// Ready returns ReadyCh.
func (s *Session) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ReadyCh
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Audio returns AudioCh.
func (s *Session) Audio() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AudioCh
}

// Interrupted returns InterruptedCh.
func (s *Session) Interrupted() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.InterruptedCh
}

// Transcripts returns TranscriptsCh.
func (s *Session) Transcripts() <-chan types.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TranscriptsCh
}

// OnToolCall stores the handler and increments OnToolCallSetCount.
func (s *Session) OnToolCall(handler s2s.ToolCallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCallHandler = handler
	s.OnToolCallSetCount++
}

// Handler returns the currently registered ToolCallHandler. Thread-safe.
// Useful in tests to invoke the handler as the provider would.
func (s *Session) Handler() s2s.ToolCallHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolCallHandler
}

// SentAudio returns a snapshot of the recorded SendAudio invocations.
// Thread-safe, so tests may poll it while the bridge is still running.
func (s *Session) SentAudio() []SendAudioCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SendAudioCall, len(s.SendAudioCalls))
	copy(out, s.SendAudioCalls)
	return out
}

// InjectedContext returns a snapshot of the recorded InjectTextContext
// invocations. Thread-safe.
func (s *Session) InjectedContext() []InjectTextContextCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InjectTextContextCall, len(s.InjectTextContextCalls))
	copy(out, s.InjectTextContextCalls)
	return out
}

// CloseCount returns how many times Close has been called. Thread-safe.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// InjectTextContext records the call and returns InjectTextContextErr.
func (s *Session) InjectTextContext(items []s2s.ContextItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]s2s.ContextItem, len(items))
	copy(cp, items)
	s.InjectTextContextCalls = append(s.InjectTextContextCalls, InjectTextContextCall{Items: cp})
	return s.InjectTextContextErr
}

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.InjectTextContextCalls = nil
	s.CloseCallCount = 0
	s.OnToolCallSetCount = 0
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
