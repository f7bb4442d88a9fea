// Package mock provides an in-memory test double for [calllog.Store].
//
// The mock is a fully working store: records written through the interface
// can be read back with GetCall/ListCalls, so app-level tests exercise real
// read-after-write behaviour. Every method invocation is additionally
// recorded for assertion, and exported *Err fields force failures.
//
// Safe for concurrent use via an internal [sync.Mutex].
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/trunkline/internal/calllog"
)

var _ calllog.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable in-memory [calllog.Store].
type Store struct {
	mu      sync.Mutex
	calls   []Call
	records map[string]*calllog.CallRecord

	// StartCallErr is returned by StartCall when non-nil; the record is not
	// created. The remaining *Err fields behave likewise for their methods.
	StartCallErr        error
	EndCallErr          error
	AppendTranscriptErr error
	RecordToolCallErr   error
	SetSummaryErr       error
	GetCallErr          error
	ListCallsErr        error
	PingErr             error
	CloseErr            error
}

// NewStore returns an empty mock store.
func NewStore() *Store {
	return &Store{records: make(map[string]*calllog.CallRecord)}
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded invocations and stored records without altering
// error configuration.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.records = make(map[string]*calllog.CallRecord)
}

// StartCall implements [calllog.Store].
func (m *Store) StartCall(_ context.Context, id, callSID string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "StartCall", Args: []any{id, callSID, startedAt}})
	if m.StartCallErr != nil {
		return m.StartCallErr
	}
	m.records[id] = &calllog.CallRecord{ID: id, CallSID: callSID, StartedAt: startedAt}
	return nil
}

// EndCall implements [calllog.Store].
func (m *Store) EndCall(_ context.Context, id string, end calllog.CallEnd) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "EndCall", Args: []any{id, end}})
	if m.EndCallErr != nil {
		return m.EndCallErr
	}
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("mock call log: unknown call %q", id)
	}
	rec.EndedAt = end.EndedAt
	rec.Outcome = end.Outcome
	rec.FramesForwarded = end.FramesForwarded
	rec.FramesDropped = end.FramesDropped
	return nil
}

// AppendTranscript implements [calllog.Store].
func (m *Store) AppendTranscript(_ context.Context, id string, entry calllog.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "AppendTranscript", Args: []any{id, entry}})
	if m.AppendTranscriptErr != nil {
		return m.AppendTranscriptErr
	}
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("mock call log: unknown call %q", id)
	}
	rec.Transcript = append(rec.Transcript, entry)
	return nil
}

// RecordToolCall implements [calllog.Store].
func (m *Store) RecordToolCall(_ context.Context, id string, inv calllog.ToolInvocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "RecordToolCall", Args: []any{id, inv}})
	if m.RecordToolCallErr != nil {
		return m.RecordToolCallErr
	}
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("mock call log: unknown call %q", id)
	}
	rec.ToolCalls = append(rec.ToolCalls, inv)
	return nil
}

// SetSummary implements [calllog.Store].
func (m *Store) SetSummary(_ context.Context, id, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "SetSummary", Args: []any{id, summary}})
	if m.SetSummaryErr != nil {
		return m.SetSummaryErr
	}
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("mock call log: unknown call %q", id)
	}
	rec.Summary = summary
	return nil
}

// GetCall implements [calllog.Store].
func (m *Store) GetCall(_ context.Context, id string) (*calllog.CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetCall", Args: []any{id}})
	if m.GetCallErr != nil {
		return nil, m.GetCallErr
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

// ListCalls implements [calllog.Store].
func (m *Store) ListCalls(_ context.Context, limit int) ([]calllog.CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "ListCalls", Args: []any{limit}})
	if m.ListCallsErr != nil {
		return nil, m.ListCallsErr
	}

	records := make([]calllog.CallRecord, 0, len(m.records))
	for _, rec := range m.records {
		header := *rec
		header.Transcript = nil
		header.ToolCalls = nil
		records = append(records, header)
	}
	slices.SortFunc(records, func(a, b calllog.CallRecord) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Ping implements [calllog.Store].
func (m *Store) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Ping"})
	return m.PingErr
}

// Close implements [calllog.Store].
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Close"})
	return m.CloseErr
}

func copyRecord(rec *calllog.CallRecord) *calllog.CallRecord {
	out := *rec
	out.Transcript = slices.Clone(rec.Transcript)
	out.ToolCalls = slices.Clone(rec.ToolCalls)
	return &out
}
