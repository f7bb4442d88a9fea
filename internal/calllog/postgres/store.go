package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/trunkline/internal/calllog"
)

var _ calllog.Store = (*Store)(nil)

const defaultListLimit = 50

// Store is a PostgreSQL-backed call log. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the PostgreSQL database at dsn, verifies the
// connection, and runs [Migrate] to ensure the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("call log: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("call log: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("call log: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// StartCall implements [calllog.Store].
func (s *Store) StartCall(ctx context.Context, id, callSID string, startedAt time.Time) error {
	const q = `
		INSERT INTO calls (id, call_sid, started_at)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, q, id, callSID, startedAt); err != nil {
		return fmt.Errorf("call log: start call: %w", err)
	}
	return nil
}

// EndCall implements [calllog.Store].
func (s *Store) EndCall(ctx context.Context, id string, end calllog.CallEnd) error {
	const q = `
		UPDATE calls
		SET    ended_at = $2, outcome = $3, frames_forwarded = $4, frames_dropped = $5
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, end.EndedAt, string(end.Outcome), end.FramesForwarded, end.FramesDropped)
	if err != nil {
		return fmt.Errorf("call log: end call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("call log: end call: unknown call %q", id)
	}
	return nil
}

// AppendTranscript implements [calllog.Store].
func (s *Store) AppendTranscript(ctx context.Context, id string, entry calllog.TranscriptEntry) error {
	const q = `
		INSERT INTO call_transcripts (call_id, speaker, text, timestamp)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, id, entry.Speaker, entry.Text, entry.Timestamp); err != nil {
		return fmt.Errorf("call log: append transcript: %w", err)
	}
	return nil
}

// RecordToolCall implements [calllog.Store].
func (s *Store) RecordToolCall(ctx context.Context, id string, inv calllog.ToolInvocation) error {
	const q = `
		INSERT INTO call_tool_calls (call_id, tool, arguments, result, succeeded, duration_ns, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		id,
		inv.Tool,
		jsonOrEmpty(inv.Arguments),
		jsonOrEmpty(inv.Result),
		inv.Succeeded,
		inv.Duration.Nanoseconds(),
		inv.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("call log: record tool call: %w", err)
	}
	return nil
}

// SetSummary implements [calllog.Store].
func (s *Store) SetSummary(ctx context.Context, id, summary string) error {
	const q = `UPDATE calls SET summary = $2 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, summary)
	if err != nil {
		return fmt.Errorf("call log: set summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("call log: set summary: unknown call %q", id)
	}
	return nil
}

// GetCall implements [calllog.Store]. It loads the full record including
// transcript and tool invocations.
func (s *Store) GetCall(ctx context.Context, id string) (*calllog.CallRecord, error) {
	const q = `
		SELECT id, call_sid, started_at, ended_at, outcome, frames_forwarded, frames_dropped, summary
		FROM   calls
		WHERE  id = $1`

	rec, err := scanCall(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("call log: get call: %w", err)
	}

	if rec.Transcript, err = s.loadTranscript(ctx, id); err != nil {
		return nil, err
	}
	if rec.ToolCalls, err = s.loadToolCalls(ctx, id); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListCalls implements [calllog.Store]. Transcript and ToolCalls are left
// empty; use GetCall for the full record.
func (s *Store) ListCalls(ctx context.Context, limit int) ([]calllog.CallRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	const q = `
		SELECT id, call_sid, started_at, ended_at, outcome, frames_forwarded, frames_dropped, summary
		FROM   calls
		ORDER  BY started_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("call log: list calls: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (calllog.CallRecord, error) {
		rec, err := scanCall(row)
		if err != nil {
			return calllog.CallRecord{}, err
		}
		return *rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("call log: list calls: scan: %w", err)
	}
	if records == nil {
		records = []calllog.CallRecord{}
	}
	return records, nil
}

// Ping implements [calllog.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("call log: ping: %w", err)
	}
	return nil
}

// Close implements [calllog.Store]. It releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) loadTranscript(ctx context.Context, id string) ([]calllog.TranscriptEntry, error) {
	const q = `
		SELECT speaker, text, timestamp
		FROM   call_transcripts
		WHERE  call_id = $1
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("call log: load transcript: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (calllog.TranscriptEntry, error) {
		var e calllog.TranscriptEntry
		err := row.Scan(&e.Speaker, &e.Text, &e.Timestamp)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("call log: load transcript: scan: %w", err)
	}
	return entries, nil
}

func (s *Store) loadToolCalls(ctx context.Context, id string) ([]calllog.ToolInvocation, error) {
	const q = `
		SELECT tool, arguments, result, succeeded, duration_ns, timestamp
		FROM   call_tool_calls
		WHERE  call_id = $1
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("call log: load tool calls: %w", err)
	}
	invocations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (calllog.ToolInvocation, error) {
		var (
			inv        calllog.ToolInvocation
			args, res  []byte
			durationNS int64
		)
		if err := row.Scan(&inv.Tool, &args, &res, &inv.Succeeded, &durationNS, &inv.Timestamp); err != nil {
			return calllog.ToolInvocation{}, err
		}
		inv.Arguments = json.RawMessage(args)
		inv.Result = json.RawMessage(res)
		inv.Duration = time.Duration(durationNS)
		return inv, nil
	})
	if err != nil {
		return nil, fmt.Errorf("call log: load tool calls: scan: %w", err)
	}
	return invocations, nil
}

// scanCall scans one calls row. ended_at is nullable while a call is active.
func scanCall(row pgx.Row) (*calllog.CallRecord, error) {
	var (
		rec     calllog.CallRecord
		endedAt *time.Time
		outcome string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.CallSID,
		&rec.StartedAt,
		&endedAt,
		&outcome,
		&rec.FramesForwarded,
		&rec.FramesDropped,
		&rec.Summary,
	); err != nil {
		return nil, err
	}
	if endedAt != nil {
		rec.EndedAt = *endedAt
	}
	rec.Outcome = calllog.Outcome(outcome)
	return &rec, nil
}

// jsonOrEmpty substitutes an empty JSON object for nil payloads so the JSONB
// columns never receive SQL NULL.
func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte(`{}`)
	}
	return []byte(raw)
}
