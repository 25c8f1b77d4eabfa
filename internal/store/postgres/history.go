// Package postgres records the session history journal in PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/facturas/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ingest_history (
	id           BIGSERIAL PRIMARY KEY,
	session_id   TEXT        NOT NULL,
	kind         TEXT        NOT NULL,
	file_name    TEXT        NOT NULL,
	phase        TEXT        NOT NULL,
	total        INTEGER     NOT NULL DEFAULT 0,
	succeeded    INTEGER     NOT NULL DEFAULT 0,
	failed       INTEGER     NOT NULL DEFAULT 0,
	error        TEXT,
	client_ip    TEXT,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ingest_history_completed ON ingest_history (completed_at DESC);
`

// Connect opens a pool for url and verifies it with a ping.
func Connect(ctx context.Context, url string, maxConns int) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// HistoryStore implements core.HistoryStore. It owns the pool and closes it
// on Close.
type HistoryStore struct {
	pool *pgxpool.Pool
}

var _ core.HistoryStore = (*HistoryStore)(nil)

// New creates the journal table if needed and returns the store.
func New(ctx context.Context, pool *pgxpool.Pool) (*HistoryStore, error) {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &HistoryStore{pool: pool}, nil
}

// Record appends e to the journal.
func (s *HistoryStore) Record(ctx context.Context, e core.HistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_history
			(session_id, kind, file_name, phase, total, succeeded, failed, error, client_ip, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.SessionID, string(e.Kind), e.FileName, e.Phase,
		e.Total, e.Succeeded, e.Failed,
		nullText(e.Error), nullText(e.ClientIP),
		e.StartedAt, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]core.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, kind, file_name, phase, total, succeeded, failed,
		       error, client_ip, started_at, completed_at
		FROM ingest_history
		ORDER BY completed_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return entries, nil
}

// Close releases the pool.
func (s *HistoryStore) Close() error {
	s.pool.Close()
	return nil
}

func scanEntry(row pgx.CollectableRow) (core.HistoryEntry, error) {
	var (
		e         core.HistoryEntry
		kind      string
		errText   pgtype.Text
		clientIP  pgtype.Text
		started   pgtype.Timestamptz
		completed pgtype.Timestamptz
	)
	err := row.Scan(
		&e.ID, &e.SessionID, &kind, &e.FileName, &e.Phase,
		&e.Total, &e.Succeeded, &e.Failed,
		&errText, &clientIP, &started, &completed,
	)
	if err != nil {
		return e, err
	}
	e.Kind = core.HistoryKind(kind)
	e.Error = errText.String
	e.ClientIP = clientIP.String
	e.StartedAt = started.Time
	e.CompletedAt = completed.Time
	return e, nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
