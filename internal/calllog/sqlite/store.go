// Package sqlite provides a SQLite-backed [calllog.Store] using the pure-Go
// modernc.org/sqlite driver. It is the zero-config default backend: point it
// at a file path, or at ":memory:" for an ephemeral log.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/trunkline/internal/calllog"
)

var _ calllog.Store = (*Store)(nil)

const defaultListLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS calls (
    id               TEXT     PRIMARY KEY,
    call_sid         TEXT     NOT NULL DEFAULT '',
    started_at       DATETIME NOT NULL,
    ended_at         DATETIME,
    outcome          TEXT     NOT NULL DEFAULT '',
    frames_forwarded INTEGER  NOT NULL DEFAULT 0,
    frames_dropped   INTEGER  NOT NULL DEFAULT 0,
    summary          TEXT     NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls (started_at);

CREATE TABLE IF NOT EXISTS call_transcripts (
    id        INTEGER  PRIMARY KEY AUTOINCREMENT,
    call_id   TEXT     NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
    speaker   TEXT     NOT NULL,
    text      TEXT     NOT NULL,
    timestamp DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_call_transcripts_call_id
    ON call_transcripts (call_id, timestamp);

CREATE TABLE IF NOT EXISTS call_tool_calls (
    id          INTEGER  PRIMARY KEY AUTOINCREMENT,
    call_id     TEXT     NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
    tool        TEXT     NOT NULL,
    arguments   TEXT     NOT NULL DEFAULT '{}',
    result      TEXT     NOT NULL DEFAULT '{}',
    succeeded   BOOLEAN  NOT NULL DEFAULT FALSE,
    duration_ns INTEGER  NOT NULL DEFAULT 0,
    timestamp   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_call_tool_calls_call_id
    ON call_tool_calls (call_id, timestamp);
`

// Store is a SQLite-backed call log. All methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore opens (and creates if necessary) the SQLite database at dsn and
// ensures the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("call log: open sqlite: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent (every new
	// connection would otherwise see an empty database) and serializes
	// writes so SQLITE_BUSY never surfaces.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("call log: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("call log: migrate sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// StartCall implements [calllog.Store].
func (s *Store) StartCall(ctx context.Context, id, callSID string, startedAt time.Time) error {
	const q = `INSERT INTO calls (id, call_sid, started_at) VALUES (?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, q, id, callSID, startedAt); err != nil {
		return fmt.Errorf("call log: start call: %w", err)
	}
	return nil
}

// EndCall implements [calllog.Store].
func (s *Store) EndCall(ctx context.Context, id string, end calllog.CallEnd) error {
	const q = `
		UPDATE calls
		SET    ended_at = ?, outcome = ?, frames_forwarded = ?, frames_dropped = ?
		WHERE  id = ?`

	res, err := s.db.ExecContext(ctx, q, end.EndedAt, string(end.Outcome), end.FramesForwarded, end.FramesDropped, id)
	if err != nil {
		return fmt.Errorf("call log: end call: %w", err)
	}
	return requireRow(res, "end call", id)
}

// AppendTranscript implements [calllog.Store].
func (s *Store) AppendTranscript(ctx context.Context, id string, entry calllog.TranscriptEntry) error {
	const q = `INSERT INTO call_transcripts (call_id, speaker, text, timestamp) VALUES (?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, q, id, entry.Speaker, entry.Text, entry.Timestamp); err != nil {
		return fmt.Errorf("call log: append transcript: %w", err)
	}
	return nil
}

// RecordToolCall implements [calllog.Store].
func (s *Store) RecordToolCall(ctx context.Context, id string, inv calllog.ToolInvocation) error {
	const q = `
		INSERT INTO call_tool_calls (call_id, tool, arguments, result, succeeded, duration_ns, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		id,
		inv.Tool,
		string(jsonOrEmpty(inv.Arguments)),
		string(jsonOrEmpty(inv.Result)),
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
	const q = `UPDATE calls SET summary = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, q, summary, id)
	if err != nil {
		return fmt.Errorf("call log: set summary: %w", err)
	}
	return requireRow(res, "set summary", id)
}

// GetCall implements [calllog.Store].
func (s *Store) GetCall(ctx context.Context, id string) (*calllog.CallRecord, error) {
	const q = `
		SELECT id, call_sid, started_at, ended_at, outcome, frames_forwarded, frames_dropped, summary
		FROM   calls
		WHERE  id = ?`

	rec, err := scanCall(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
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
		LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("call log: list calls: %w", err)
	}
	defer rows.Close()

	records := []calllog.CallRecord{}
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("call log: list calls: scan: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("call log: list calls: %w", err)
	}
	return records, nil
}

// Ping implements [calllog.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("call log: ping: %w", err)
	}
	return nil
}

// Close implements [calllog.Store].
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) loadTranscript(ctx context.Context, id string) ([]calllog.TranscriptEntry, error) {
	const q = `
		SELECT speaker, text, timestamp
		FROM   call_transcripts
		WHERE  call_id = ?
		ORDER  BY timestamp, id`

	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("call log: load transcript: %w", err)
	}
	defer rows.Close()

	var entries []calllog.TranscriptEntry
	for rows.Next() {
		var e calllog.TranscriptEntry
		if err := rows.Scan(&e.Speaker, &e.Text, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("call log: load transcript: scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) loadToolCalls(ctx context.Context, id string) ([]calllog.ToolInvocation, error) {
	const q = `
		SELECT tool, arguments, result, succeeded, duration_ns, timestamp
		FROM   call_tool_calls
		WHERE  call_id = ?
		ORDER  BY timestamp, id`

	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("call log: load tool calls: %w", err)
	}
	defer rows.Close()

	var invocations []calllog.ToolInvocation
	for rows.Next() {
		var (
			inv        calllog.ToolInvocation
			args, res  string
			durationNS int64
		)
		if err := rows.Scan(&inv.Tool, &args, &res, &inv.Succeeded, &durationNS, &inv.Timestamp); err != nil {
			return nil, fmt.Errorf("call log: load tool calls: scan: %w", err)
		}
		inv.Arguments = json.RawMessage(args)
		inv.Result = json.RawMessage(res)
		inv.Duration = time.Duration(durationNS)
		invocations = append(invocations, inv)
	}
	return invocations, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (*calllog.CallRecord, error) {
	var (
		rec     calllog.CallRecord
		endedAt sql.NullTime
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
	if endedAt.Valid {
		rec.EndedAt = endedAt.Time
	}
	rec.Outcome = calllog.Outcome(outcome)
	return &rec, nil
}

func requireRow(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("call log: %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("call log: %s: unknown call %q", op, id)
	}
	return nil
}

// jsonOrEmpty substitutes an empty JSON object for nil payloads.
func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte(`{}`)
	}
	return []byte(raw)
}
