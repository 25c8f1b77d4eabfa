package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/facturas/internal/core"
)

// maxChunkMemory is how much of a chunk form is held in memory before the
// multipart reader spills to disk.
const maxChunkMemory = 32 << 20

// handleChunk stores one piece of a large file.
// Form fields: upload_id (UUID chosen by the client), index (0-based), chunk.
func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(maxChunkMemory); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: invalid chunk form: %v", errBadRequest, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	uploadID := r.FormValue("upload_id")
	index, err := strconv.Atoi(r.FormValue("index"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: invalid chunk index", errBadRequest))
		return
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		s.respondError(w, r, errNoFile)
		return
	}
	defer file.Close()

	n, err := s.chunks.Put(uploadID, index, file)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"upload_id": uploadID,
		"index":     index,
		"size":      n,
	})
}

// chunksCompleteRequest finishes a chunked upload.
type chunksCompleteRequest struct {
	UploadID  string `json:"upload_id"`
	FileName  string `json:"file_name"`
	SessionID string `json:"session_id"`
	Encoding  string `json:"encoding,omitempty"`
}

// handleChunksComplete assembles the stored chunks and ingests the result
// into the named session.
func (s *Server) handleChunksComplete(w http.ResponseWriter, r *http.Request) {
	var req chunksCompleteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: invalid JSON body", errBadRequest))
		return
	}
	if req.UploadID == "" || req.FileName == "" || req.SessionID == "" {
		s.respondError(w, r, fmt.Errorf("%w: upload_id, file_name and session_id are required", errBadRequest))
		return
	}

	if _, err := s.service.Session(req.SessionID); err != nil {
		s.respondError(w, r, err)
		return
	}

	encoding := req.Encoding
	if encoding == "" {
		encoding = s.cfg.Ingest.DefaultEncoding
	}
	if _, err := core.NormalizeEncoding(encoding); err != nil {
		s.respondError(w, r, err)
		return
	}

	src, err := s.chunks.Assemble(req.UploadID, req.FileName)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	src.Encoding = encoding

	ctx := WithRequestMetadata(r.Context(), r)
	if err := s.service.StartIngest(ctx, req.SessionID, src); err != nil {
		s.respondError(w, r, err)
		return
	}

	progress, _ := s.service.IngestProgress(req.SessionID)
	writeJSON(w, http.StatusAccepted, progress)
}
