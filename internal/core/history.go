package core

// history.go declares the optional persistence hooks of the service.
//
// Sessions live in memory. What survives them is a short journal of finished
// ingestions and upload runs (HistoryStore) and the last status snapshot per
// session (ProgressCache), so an operator who reloads the console after the
// session was evicted still sees how it ended.

import (
	"context"
	"time"
)

// HistoryKind distinguishes journal entries.
type HistoryKind string

const (
	HistoryIngest HistoryKind = "ingest"
	HistoryUpload HistoryKind = "upload"
)

// HistoryEntry is one finished ingestion or upload run.
type HistoryEntry struct {
	ID          int64       `json:"id"`
	SessionID   string      `json:"session_id"`
	Kind        HistoryKind `json:"kind"`
	FileName    string      `json:"file_name"`
	Phase       string      `json:"phase"`
	Total       int         `json:"total"`
	Succeeded   int         `json:"succeeded"`
	Failed      int         `json:"failed"`
	Error       string      `json:"error,omitempty"`
	ClientIP    string      `json:"client_ip,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
}

// HistoryStore persists HistoryEntries. Implementations must be safe for
// concurrent use.
type HistoryStore interface {
	Record(ctx context.Context, e HistoryEntry) error
	Recent(ctx context.Context, limit int) ([]HistoryEntry, error)
	Close() error
}

// StatusSnapshot is the latest known state of a session.
type StatusSnapshot struct {
	SessionID string          `json:"session_id"`
	Ingest    IngestProgress  `json:"ingest"`
	Upload    *UploadProgress `json:"upload,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProgressCache keeps the last StatusSnapshot per session. Load returns
// ErrSnapshotNotFound for unknown or expired sessions.
type ProgressCache interface {
	Save(ctx context.Context, snap StatusSnapshot) error
	Load(ctx context.Context, sessionID string) (StatusSnapshot, error)
}

// Default and maximum page size for History.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// ClampHistoryLimit normalizes a requested journal length.
func ClampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
