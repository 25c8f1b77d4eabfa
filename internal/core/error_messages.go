// Package core provides the business logic for bulk e-invoice ingestion.
//
// # Error Codes Reference
//
// This file maps technical errors to user-friendly messages with a code the
// operator can quote to support. Codes are grouped by category:
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: the upload exceeds UPLOAD_MAX_FILE_SIZE
//	FILE002 - Empty file: the file has no header row
//	FILE003 - Invalid CSV: broken quoting or unreadable content
//	FILE004 - Unsupported file type: only .csv and .tsv are accepted
//	FILE005 - Unsupported encoding: not utf-8, windows-1252 or iso-8859-1
//	FILE006 - No file: the multipart form carried no file
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Nothing to upload: the file has no valid records
//	VAL002 - Last file failed: fix the file and ingest it again
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Upload cancelled by the operator
//	UPL002 - System busy: every upload slot is taken
//	UPL003 - Upload already running in this session
//	UPL004 - No upload started in this session
//	UPL005 - File still being processed
//	UPL006 - Upload endpoint not configured
//	UPL007 - Chunked upload unknown or incomplete
//	UPL008 - Chunk rejected: bad upload id or index
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session not found or expired
//	SES002 - No file ingested in this session
//
// # Network Errors (NET001-NET099)
//
//	NET001 - Request cancelled
//	NET002 - Request timed out
//	NET003 - Backend unreachable
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Support staff should check application logs
// for the technical error, which is always logged with the request id.
//
// # Matching
//
// Rules are tried in order. A rule matches when errors.Is finds its target
// in the chain, or when its pattern occurs in the lower-cased message. The
// first match wins, so specific rules come before general ones.
package core

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorRule struct {
	target  error  // matched with errors.Is when set
	pattern string // matched against the lower-cased message when set
	msg     UserMessage
}

func (r errorRule) matches(err error, lower string) bool {
	if r.target != nil && errors.Is(err, r.target) {
		return true
	}
	return r.pattern != "" && strings.Contains(lower, r.pattern)
}

var invalidCSV = UserMessage{
	Message: "File is not a valid CSV",
	Action:  "Check quoting around cells that contain commas, quotes or line breaks",
	Code:    "FILE003",
}

var errorRules = []errorRule{
	// File
	{target: ErrFileTooLarge, pattern: "file too large", msg: UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the file or upload it in chunks",
		Code:    "FILE001",
	}},
	{target: ErrEmptyFile, msg: UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Upload a file with a header row, or start from the template",
		Code:    "FILE002",
	}},
	{pattern: "invalid csv", msg: invalidCSV},
	{target: ErrUnsupportedFile, msg: UserMessage{
		Message: "Unsupported file type",
		Action:  "Save the file as .csv or .tsv",
		Code:    "FILE004",
	}},
	{target: ErrUnsupportedEncoding, msg: UserMessage{
		Message: "Unsupported text encoding",
		Action:  "Choose utf-8, windows-1252 or iso-8859-1",
		Code:    "FILE005",
	}},
	{pattern: "no file provided", msg: UserMessage{
		Message: "No file was selected",
		Action:  "Select a CSV file to upload",
		Code:    "FILE006",
	}},

	// Validation
	{target: ErrNothingToUpload, msg: UserMessage{
		Message: "The file has no valid records to upload",
		Action:  "Download the failed records, fix them and ingest the file again",
		Code:    "VAL001",
	}},
	{target: ErrIngestFailed, msg: UserMessage{
		Message: "The last file could not be processed",
		Action:  "Fix the file and ingest it again",
		Code:    "VAL002",
	}},

	// Upload
	{target: ErrUploadCancelled, msg: UserMessage{
		Message: "Upload was cancelled",
		Action:  "Start a new upload when ready",
		Code:    "UPL001",
	}},
	{target: ErrTooManyUploads, msg: UserMessage{
		Message: "System is busy processing other uploads",
		Action:  "Wait a moment and try again",
		Code:    "UPL002",
	}},
	{target: ErrUploadInProgress, msg: UserMessage{
		Message: "An upload is already running in this session",
		Action:  "Wait for it to finish or cancel it",
		Code:    "UPL003",
	}},
	{target: ErrNoUpload, msg: UserMessage{
		Message: "No upload has been started",
		Action:  "Start an upload first",
		Code:    "UPL004",
	}},
	{target: ErrIngestInProgress, msg: UserMessage{
		Message: "The file is still being processed",
		Action:  "Wait until processing completes",
		Code:    "UPL005",
	}},
	{target: ErrEndpointNotConfigured, msg: UserMessage{
		Message: "Uploads are not configured on this server",
		Action:  "Ask an administrator to set BACKEND_INVOICES_URL",
		Code:    "UPL006",
	}},
	{target: ErrChunkNotFound, msg: UserMessage{
		Message: "Chunked upload not found",
		Action:  "Upload the file again",
		Code:    "UPL007",
	}},
	{target: ErrInvalidChunk, msg: UserMessage{
		Message: "Chunk rejected",
		Action:  "Restart the upload with a new upload id",
		Code:    "UPL008",
	}},

	// Session
	{target: ErrSessionNotFound, msg: UserMessage{
		Message: "Session not found",
		Action:  "The session may have expired. Start a new one",
		Code:    "SES001",
	}},
	{target: ErrNoIngestion, msg: UserMessage{
		Message: "No file has been processed in this session",
		Action:  "Upload a file first",
		Code:    "SES002",
	}},

	// Network
	{pattern: "context canceled", msg: UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "NET001",
	}},
	{pattern: "deadline exceeded", msg: UserMessage{
		Message: "Request timed out",
		Action:  "Try again or check your connection",
		Code:    "NET002",
	}},
	{pattern: "connection refused", msg: UserMessage{
		Message: "The invoicing backend is unreachable",
		Action:  "Try again in a few moments",
		Code:    "NET003",
	}},
}

// defaultMessage is returned when no rule matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(fmt.Errorf("start upload: %w", ErrTooManyUploads))
//	// msg.Code == "UPL002"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var pe *ParseError
	if errors.As(err, &pe) && !errors.Is(err, ErrEmptyFile) {
		return invalidCSV
	}

	lower := strings.ToLower(err.Error())
	for _, r := range errorRules {
		if r.matches(err, lower) {
			return r.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string { return e.User.Message }

func (e *UserError) Unwrap() error { return e.Technical }

// NewUserError maps err. It returns nil for a nil error.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
