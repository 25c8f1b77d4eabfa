package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical details and request id, then
// answered as JSON with the user-facing message and code from core.MapError.
// The status code is derived from the error itself so handlers never pick one.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/facturas/internal/core"
	"github.com/JonMunkholm/facturas/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusRule maps a sentinel error to an HTTP status.
type statusRule struct {
	target error
	status int
}

var statusRules = []statusRule{
	{core.ErrSessionNotFound, http.StatusNotFound},
	{core.ErrNoIngestion, http.StatusNotFound},
	{core.ErrNoUpload, http.StatusNotFound},
	{core.ErrChunkNotFound, http.StatusNotFound},
	{core.ErrInvalidChunk, http.StatusBadRequest},
	{core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
	{core.ErrUnsupportedFile, http.StatusUnsupportedMediaType},
	{core.ErrUnsupportedEncoding, http.StatusBadRequest},
	{core.ErrEmptyFile, http.StatusBadRequest},
	{core.ErrIngestInProgress, http.StatusConflict},
	{core.ErrUploadInProgress, http.StatusConflict},
	{core.ErrIngestFailed, http.StatusConflict},
	{core.ErrNothingToUpload, http.StatusConflict},
	{core.ErrTooManyUploads, http.StatusServiceUnavailable},
	{core.ErrEndpointNotConfigured, http.StatusServiceUnavailable},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
}

var (
	// errBadRequest marks malformed client input. Wrap it with a description.
	errBadRequest = errors.New("bad request")
	errNoFile     = errors.New("no file provided")
)

// statusFor derives the response status of err.
func statusFor(err error) int {
	var pe *core.ParseError
	if errors.As(err, &pe) || errors.Is(err, errBadRequest) || errors.Is(err, errNoFile) {
		return http.StatusBadRequest
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	for _, rule := range statusRules {
		if errors.Is(err, rule.target) {
			return rule.status
		}
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes its JSON error response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		err = errors.Join(core.ErrFileTooLarge, err)
	}

	status := statusFor(err)
	msg := core.MapError(err)
	if errors.Is(err, errBadRequest) {
		msg = core.UserMessage{
			Message: err.Error(),
			Action:  "Check the request parameters and try again.",
			Code:    "REQ001",
		}
	}

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	if errors.Is(err, core.ErrTooManyUploads) {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.Upload.MaxWaitTime.Seconds())+1))
	}

	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(context.Background()).Warn("json encode error", "error", err)
	}
}
