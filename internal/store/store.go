// Package store archives finished calls and their transcripts in
// PostgreSQL. The archive is strictly off the real-time path: writes happen
// as transcript lines settle and when a call ends, never while audio is
// being bridged.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxwire/voxwire/internal/call"
	"github.com/voxwire/voxwire/internal/transcript"
)

// CallRecord is one archived call.
type CallRecord struct {
	CallSid    string
	StreamSid  string
	AccountSid string
	TenantID   string
	StartedAt  time.Time
	Duration   time.Duration
}

// Line is one archived transcript line.
type Line struct {
	CallSid   string
	Speaker   call.Speaker
	Text      string
	Timestamp time.Time
}

// Store is the PostgreSQL call archive. All methods are safe for concurrent
// use; the zero value is not usable, construct with New.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// New connects to the database at dsn, verifies the connection, and ensures
// the archive schema exists.
func New(ctx context.Context, log *slog.Logger, dsn string) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("call store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("call store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("call store: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("call store: migrate: %w", err)
	}

	return &Store{log: log, pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WriteTranscript appends one transcript line to the archive.
func (s *Store) WriteTranscript(ctx context.Context, info call.CallInfo, entry transcript.Entry) error {
	const q = `
		INSERT INTO call_transcripts (call_sid, speaker, text, spoken_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, q, info.CallSid, string(entry.Speaker), entry.Text, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("call store: write transcript: %w", err)
	}
	return nil
}

// HandleTranscript implements transcript.Sink. Archive failures are logged
// and swallowed; losing an archive line must never disturb a live call.
func (s *Store) HandleTranscript(ctx context.Context, info call.CallInfo, entry transcript.Entry) {
	if err := s.WriteTranscript(ctx, info, entry); err != nil {
		s.log.Warn("transcript archive write failed", "call_sid", info.CallSid, "error", err)
	}
}

// ArchiveCall records a finished call. Re-archiving the same call updates
// its duration, which covers a provider retrying its status callback.
func (s *Store) ArchiveCall(ctx context.Context, info call.CallInfo, startedAt time.Time, duration time.Duration) error {
	const q = `
		INSERT INTO calls (call_sid, stream_sid, account_sid, tenant_id, started_at, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (call_sid) DO UPDATE
		SET duration_ns = EXCLUDED.duration_ns`

	_, err := s.pool.Exec(ctx, q,
		info.CallSid,
		info.StreamSid,
		info.AccountSid,
		info.TenantID,
		startedAt,
		duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("call store: archive call: %w", err)
	}
	return nil
}

// Transcript returns all archived lines of one call, oldest first.
func (s *Store) Transcript(ctx context.Context, callSid string) ([]Line, error) {
	const q = `
		SELECT call_sid, speaker, text, spoken_at
		FROM   call_transcripts
		WHERE  call_sid = $1
		ORDER  BY spoken_at, id`

	rows, err := s.pool.Query(ctx, q, callSid)
	if err != nil {
		return nil, fmt.Errorf("call store: transcript: %w", err)
	}
	return collectLines(rows)
}

// SearchTranscripts runs a full-text search over archived transcript lines.
// callSid and tenantID narrow the search when non-empty; limit caps the
// result count when positive.
func (s *Store) SearchTranscripts(ctx context.Context, query, callSid, tenantID string, limit int) ([]Line, error) {
	args := []any{query}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', t.text) @@ plainto_tsquery('english', $1)",
	}
	if callSid != "" {
		conditions = append(conditions, "t.call_sid = "+next(callSid))
	}
	if tenantID != "" {
		conditions = append(conditions, "c.tenant_id = "+next(tenantID))
	}

	q := "SELECT t.call_sid, t.speaker, t.text, t.spoken_at\n" +
		"FROM   call_transcripts t\n" +
		"JOIN   calls c ON c.call_sid = t.call_sid\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY t.spoken_at"

	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("call store: search transcripts: %w", err)
	}
	return collectLines(rows)
}

// RecentCalls returns the most recently started calls for a tenant, newest
// first. An empty tenantID returns calls across all tenants.
func (s *Store) RecentCalls(ctx context.Context, tenantID string, limit int) ([]CallRecord, error) {
	args := []any{}
	where := ""
	if tenantID != "" {
		args = append(args, tenantID)
		where = "WHERE tenant_id = $1\n"
	}
	q := "SELECT call_sid, stream_sid, account_sid, tenant_id, started_at, duration_ns\n" +
		"FROM   calls\n" + where +
		"ORDER  BY started_at DESC"
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("call store: recent calls: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CallRecord, error) {
		var (
			r          CallRecord
			durationNS int64
		)
		if err := row.Scan(&r.CallSid, &r.StreamSid, &r.AccountSid, &r.TenantID, &r.StartedAt, &durationNS); err != nil {
			return CallRecord{}, err
		}
		r.Duration = time.Duration(durationNS)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("call store: scan calls: %w", err)
	}
	return records, nil
}

func collectLines(rows pgx.Rows) ([]Line, error) {
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Line, error) {
		var (
			l       Line
			speaker string
		)
		if err := row.Scan(&l.CallSid, &speaker, &l.Text, &l.Timestamp); err != nil {
			return Line{}, err
		}
		l.Speaker = call.Speaker(speaker)
		return l, nil
	})
	if err != nil {
		return nil, fmt.Errorf("call store: scan transcripts: %w", err)
	}
	return lines, nil
}
