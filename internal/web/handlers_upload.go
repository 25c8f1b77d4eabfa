package web

import (
	"net/http"

	"github.com/JonMunkholm/facturas/internal/core"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// handleStartUpload sends the session's valid records to the invoicing
// backend. The caller's Authorization header is forwarded with every record.
func (s *Server) handleStartUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctx := WithRequestMetadata(r.Context(), r)

	err := s.service.StartUpload(ctx, sessionID, core.UploadRequest{
		AuthHeader: r.Header.Get("Authorization"),
		RequestID:  middleware.GetReqID(r.Context()),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	progress, _ := s.service.UploadProgress(sessionID)
	writeJSON(w, http.StatusAccepted, progress)
}

// handleUploadProgress streams upload progress via Server-Sent Events.
func (s *Server) handleUploadProgress(w http.ResponseWriter, r *http.Request) {
	ch, err := s.service.SubscribeUpload(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	streamEvents(w, r, ch, func(p core.UploadProgress) bool { return p.Phase.Terminal() })
}

// handleCancelUpload aborts the running upload. Records already sent stay sent.
func (s *Server) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelUpload(chi.URLParam(r, "sessionID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleUploadResult returns the summary of the latest upload run. With
// ?wait=false it answers 409 instead of waiting for a running upload.
func (s *Server) handleUploadResult(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if r.URL.Query().Get("wait") == "false" {
		p, err := s.service.UploadProgress(sessionID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if !p.Phase.Terminal() {
			s.respondError(w, r, core.ErrUploadInProgress)
			return
		}
	}

	sum, err := s.service.UploadResult(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
