// Package postgres provides a PostgreSQL-backed [calllog.Store].
//
// All operations share a single [pgxpool.Pool]. [Migrate] is idempotent and
// runs automatically on [NewStore], so the store is usable against an empty
// database.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.StartCall(ctx, streamID, callSID, time.Now())
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id               TEXT         PRIMARY KEY,
    call_sid         TEXT         NOT NULL DEFAULT '',
    started_at       TIMESTAMPTZ  NOT NULL,
    ended_at         TIMESTAMPTZ,
    outcome          TEXT         NOT NULL DEFAULT '',
    frames_forwarded BIGINT       NOT NULL DEFAULT 0,
    frames_dropped   BIGINT       NOT NULL DEFAULT 0,
    summary          TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_calls_started_at
    ON calls (started_at);
`

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS call_transcripts (
    id        BIGSERIAL    PRIMARY KEY,
    call_id   TEXT         NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
    speaker   TEXT         NOT NULL,
    text      TEXT         NOT NULL,
    timestamp TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_transcripts_call_id
    ON call_transcripts (call_id, timestamp);
`

const ddlToolCalls = `
CREATE TABLE IF NOT EXISTS call_tool_calls (
    id          BIGSERIAL    PRIMARY KEY,
    call_id     TEXT         NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
    tool        TEXT         NOT NULL,
    arguments   JSONB        NOT NULL DEFAULT '{}',
    result      JSONB        NOT NULL DEFAULT '{}',
    succeeded   BOOLEAN      NOT NULL DEFAULT false,
    duration_ns BIGINT       NOT NULL DEFAULT 0,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_tool_calls_call_id
    ON call_tool_calls (call_id, timestamp);
`

// Migrate creates all required tables and indexes. It is idempotent
// (CREATE TABLE IF NOT EXISTS) and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlCalls, ddlTranscripts, ddlToolCalls} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("call log migrate: %w", err)
		}
	}
	return nil
}
