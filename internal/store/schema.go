package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    call_sid    TEXT         PRIMARY KEY,
    stream_sid  TEXT         NOT NULL DEFAULT '',
    account_sid TEXT         NOT NULL DEFAULT '',
    tenant_id   TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_calls_tenant_started
    ON calls (tenant_id, started_at DESC);
`

const ddlCallTranscripts = `
CREATE TABLE IF NOT EXISTS call_transcripts (
    id        BIGSERIAL    PRIMARY KEY,
    call_sid  TEXT         NOT NULL,
    speaker   TEXT         NOT NULL,
    text      TEXT         NOT NULL,
    spoken_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_transcripts_call_sid
    ON call_transcripts (call_sid, spoken_at);

CREATE INDEX IF NOT EXISTS idx_call_transcripts_fts
    ON call_transcripts USING GIN (to_tsvector('english', text));
`

// migrate creates the archive tables and indexes if they do not exist yet.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlCalls, ddlCallTranscripts} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
