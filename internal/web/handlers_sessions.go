package web

import (
	"net/http"
	"strconv"

	"github.com/JonMunkholm/facturas/internal/core"
	"github.com/go-chi/chi/v5"
)

// healthResponse is served by /healthz.
type healthResponse struct {
	Status         string                   `json:"status"`
	Sessions       int                      `json:"sessions"`
	UploadsEnabled bool                     `json:"uploads_enabled"`
	Uploads        core.UploadLimiterStatus `json:"uploads"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Sessions:       s.service.SessionCount(),
		UploadsEnabled: s.service.UploadsEnabled(),
		Uploads:        s.service.LimiterStatus(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, s.service.CreateSession())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSession(chi.URLParam(r, "sessionID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStatus returns the live session state, or the cached snapshot of a
// session that no longer exists.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Status(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleHistory returns the most recent finished ingestions and uploads.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.service.History(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
