package core

import (
	"io"
	"time"

	"github.com/JonMunkholm/facturas/internal/schema"
)

// RawRow maps header names, exactly as written in the file, to cell values.
// Cells missing from a short line are absent from the map.
type RawRow map[string]string

// ValidationFailure keeps a rejected row together with every rule it broke.
type ValidationFailure struct {
	Line   int      `json:"line"`   // 1-based file line, header is line 1
	Row    RawRow   `json:"row"`    // original cells for correction and re-upload
	Errors []string `json:"errors"` // "<field>: <message>", schema order
}

// IngestPhase is the controller state.
type IngestPhase string

const (
	IngestIdle      IngestPhase = "idle"
	IngestParsing   IngestPhase = "parsing"
	IngestComplete  IngestPhase = "complete"
	IngestFailed    IngestPhase = "failed"
	IngestCancelled IngestPhase = "cancelled"
)

// Terminal reports whether no further progress will be emitted.
func (p IngestPhase) Terminal() bool {
	return p == IngestComplete || p == IngestFailed || p == IngestCancelled
}

// SourceFile is an uploaded file ready to be parsed.
type SourceFile struct {
	Name     string    // Original file name; its extension selects the delimiter
	Size     int64     // Total bytes, 0 if unknown
	Encoding string    // utf-8 (default), windows-1252, iso-8859-1
	Reader   io.Reader // File contents
}

// IngestionResult is the outcome of parsing and validating one file.
//
// ValidCount and FailedCount include rows beyond the caps, so
// ValidCount+FailedCount == TotalRowsSeen while Valid and Failures hold at
// most PreviewCap and ErrorCap entries.
type IngestionResult struct {
	FileName      string              `json:"file_name"`
	Columns       []string            `json:"columns"`
	Valid         []schema.Invoice    `json:"-"`
	Failures      []ValidationFailure `json:"-"`
	TotalRowsSeen int                 `json:"total_rows_seen"`
	ValidCount    int                 `json:"valid_count"`
	FailedCount   int                 `json:"failed_count"`
	Duration      time.Duration       `json:"duration"`
}

// RetainedValid is the number of valid records kept for preview and upload.
func (r *IngestionResult) RetainedValid() int { return len(r.Valid) }

// DroppedValid is the number of valid rows counted but not kept.
func (r *IngestionResult) DroppedValid() int { return r.ValidCount - len(r.Valid) }

// DroppedFailures is the number of failures counted but not kept.
func (r *IngestionResult) DroppedFailures() int { return r.FailedCount - len(r.Failures) }

// IngestProgress is emitted while a file is being ingested.
type IngestProgress struct {
	SessionID string      `json:"session_id,omitempty"`
	FileName  string      `json:"file_name"`
	Phase     IngestPhase `json:"phase"`
	Percent   int         `json:"percent"`
	RowsSeen  int         `json:"rows_seen"`
	Valid     int         `json:"valid"`
	Failed    int         `json:"failed"`
	Error     string      `json:"error,omitempty"`
}

// UploadPhase indicates the current stage of an upload run.
type UploadPhase string

const (
	UploadIdle      UploadPhase = "idle"
	UploadRunning   UploadPhase = "running"
	UploadComplete  UploadPhase = "complete"
	UploadFailed    UploadPhase = "failed"
	UploadCancelled UploadPhase = "cancelled"
)

// Terminal reports whether the run has finished.
func (p UploadPhase) Terminal() bool {
	return p == UploadComplete || p == UploadFailed || p == UploadCancelled
}

// Error codes attached to upload outcomes.
const (
	CodeHTTPError    = "HTTP_ERROR"
	CodeTimeout      = "TIMEOUT"
	CodeNetworkError = "NETWORK_ERROR"
	CodeUnknown      = "UNKNOWN"
	CodeCancelled    = "CANCELLED"
)

// UploadOutcome is the final result for one record.
type UploadOutcome struct {
	Index      int            `json:"index"` // position in the uploaded record set
	Record     schema.Invoice `json:"record"`
	Succeeded  bool           `json:"succeeded"`
	Error      string         `json:"error,omitempty"`
	Code       string         `json:"code,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Attempts   int            `json:"attempts"`
	Cancelled  bool           `json:"cancelled,omitempty"`
}

// RecordError pairs a permanently failed record with its last error.
type RecordError struct {
	Record   schema.Invoice `json:"record"`
	Error    string         `json:"error"`
	Code     string         `json:"code"`
	Attempts int            `json:"attempts"`
}

// UploadProgress reports an upload run after each batch settles.
//
// Processed counts records that reached a final answer, success or
// permanent failure. Succeeded counts confirmed successes only.
type UploadProgress struct {
	SessionID      string      `json:"session_id,omitempty"`
	Phase          UploadPhase `json:"phase"`
	Total          int         `json:"total"`
	Processed      int         `json:"processed"`
	Succeeded      int         `json:"succeeded"`
	Failed         int         `json:"failed"`
	Batch          int         `json:"batch"`
	Batches        int         `json:"batches"`
	Percent        int         `json:"percent"`
	SuccessPercent int         `json:"success_percent"`
	Error          string      `json:"error,omitempty"`
}

// UploadSummary is the final state of an upload run.
type UploadSummary struct {
	Total       int           `json:"total"`
	Processed   int           `json:"processed"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Batches     int           `json:"batches"` // batches started
	Cancelled   bool          `json:"cancelled"`
	Errors      []RecordError `json:"errors"`
	Duration    time.Duration `json:"duration"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// percentOf returns n/total as an integer percentage.
func percentOf(n, total int) int {
	if total <= 0 {
		return 0
	}
	return n * 100 / total
}
