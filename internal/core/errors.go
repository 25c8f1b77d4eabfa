package core

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrUnsupportedFile       = errors.New("unsupported file type: only .csv and .tsv files are accepted")
	ErrUnsupportedEncoding   = errors.New("unsupported encoding")
	ErrEmptyFile             = errors.New("empty file: missing header row")
	ErrIngestInProgress      = errors.New("ingestion still in progress")
	ErrIngestCancelled       = errors.New("ingestion cancelled")
	ErrSuperseded            = errors.New("ingestion superseded by a newer file")
	ErrNoIngestion           = errors.New("no file has been ingested in this session")
	ErrIngestFailed          = errors.New("last ingestion failed")
	ErrNothingToUpload       = errors.New("no valid records to upload")
	ErrUploadInProgress      = errors.New("upload in progress")
	ErrNoUpload              = errors.New("no upload has been started in this session")
	ErrUploadCancelled       = errors.New("upload cancelled")
	ErrEndpointNotConfigured = errors.New("upload endpoint is not configured")
	ErrChunkNotFound         = errors.New("no chunks received for upload")
	ErrInvalidChunk          = errors.New("invalid chunk")
	ErrFileTooLarge          = errors.New("file too large")
	ErrSnapshotNotFound      = errors.New("status snapshot not found")
)

// ParseError is a fatal, stream-level failure: the file cannot be read as
// CSV/TSV and the whole ingestion is discarded.
type ParseError struct {
	Line int   // 1-based line where reading failed, 0 if unknown
	Err  error // underlying cause
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid csv at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("invalid csv: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
