// Package sqlstore records the session history journal through
// database/sql, on SQLite for single-node installs or MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/facturas/internal/core"
	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to dsn with the named driver ("sqlite", "sqlite3" or "mysql").
// MySQL DSNs are forced to parseTime so timestamps scan into time.Time.
func Open(driver, dsn string, maxConns int) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn must be provided", driver)
	}

	var (
		db  *sql.DB
		err error
	)
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// SQLite serializes writers.
		db.SetMaxOpenConns(1)
	case "mysql":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		db, err = sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
		if maxConns > 0 {
			db.SetMaxOpenConns(maxConns)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the journal table is present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS ingest_history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				file_name TEXT NOT NULL,
				phase TEXT NOT NULL,
				total INTEGER NOT NULL DEFAULT 0,
				succeeded INTEGER NOT NULL DEFAULT 0,
				failed INTEGER NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				client_ip TEXT NOT NULL DEFAULT '',
				started_at DATETIME NOT NULL,
				completed_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ingest_history_completed ON ingest_history(completed_at DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS ingest_history (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				session_id VARCHAR(36) NOT NULL,
				kind VARCHAR(16) NOT NULL,
				file_name VARCHAR(255) NOT NULL,
				phase VARCHAR(16) NOT NULL,
				total INT NOT NULL DEFAULT 0,
				succeeded INT NOT NULL DEFAULT 0,
				failed INT NOT NULL DEFAULT 0,
				error TEXT NOT NULL,
				client_ip VARCHAR(64) NOT NULL DEFAULT '',
				started_at DATETIME(6) NOT NULL,
				completed_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_ingest_history_completed (completed_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// HistoryStore implements core.HistoryStore on a *sql.DB. Both supported
// drivers use ? placeholders.
type HistoryStore struct {
	db *sql.DB
}

var _ core.HistoryStore = (*HistoryStore)(nil)

// New opens dsn, migrates it and returns the store.
func New(driver, dsn string, maxConns int) (*HistoryStore, error) {
	db, err := Open(driver, dsn, maxConns)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, driver); err != nil {
		db.Close()
		return nil, err
	}
	return &HistoryStore{db: db}, nil
}

// Record appends e to the journal. Timestamps are stored in UTC.
func (s *HistoryStore) Record(ctx context.Context, e core.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_history
			(session_id, kind, file_name, phase, total, succeeded, failed, error, client_ip, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, string(e.Kind), e.FileName, e.Phase,
		e.Total, e.Succeeded, e.Failed, e.Error, e.ClientIP,
		e.StartedAt.UTC(), e.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]core.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, kind, file_name, phase, total, succeeded, failed,
		       error, client_ip, started_at, completed_at
		FROM ingest_history
		ORDER BY completed_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make([]core.HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e    core.HistoryEntry
			kind string
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &kind, &e.FileName, &e.Phase,
			&e.Total, &e.Succeeded, &e.Failed,
			&e.Error, &e.ClientIP, &e.StartedAt, &e.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Kind = core.HistoryKind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Close closes the database handle.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
