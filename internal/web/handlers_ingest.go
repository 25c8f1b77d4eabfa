package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/facturas/internal/core"
	"github.com/go-chi/chi/v5"
)

// maxFieldSize bounds the small text fields of multipart forms.
const maxFieldSize = 1 << 10

// handleIngest receives a file and starts parsing it in the background.
//
// The multipart body is streamed: the "file" part is spooled to disk as it
// arrives, so memory stays flat whatever the file size. An optional
// "encoding" field (or ?encoding=) names the file's character set.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.service.Session(sessionID); err != nil {
		s.respondError(w, r, err)
		return
	}

	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)

	src, err := s.readMultipartFile(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	if err := s.service.StartIngest(ctx, sessionID, src); err != nil {
		s.respondError(w, r, err)
		return
	}

	progress, _ := s.service.IngestProgress(sessionID)
	writeJSON(w, http.StatusAccepted, progress)
}

// readMultipartFile spools the "file" part and collects the "encoding"
// field. The returned Reader is a *core.SpoolFile owned by the caller.
func (s *Server) readMultipartFile(r *http.Request) (core.SourceFile, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return core.SourceFile{}, fmt.Errorf("%w: expected multipart form: %v", errBadRequest, err)
	}

	src := core.SourceFile{Encoding: r.URL.Query().Get("encoding")}
	var spool *core.SpoolFile
	fail := func(err error) (core.SourceFile, error) {
		if spool != nil {
			spool.Close()
		}
		return core.SourceFile{}, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("read multipart: %w", err))
		}

		switch part.FormName() {
		case "file":
			if spool != nil {
				part.Close()
				return fail(fmt.Errorf("%w: more than one file", errBadRequest))
			}
			if _, err := core.DelimiterFor(part.FileName()); err != nil {
				part.Close()
				return fail(err)
			}
			spool, src.Size, err = core.NewSpoolFile(s.cfg.Upload.SpoolDir, part, s.cfg.Upload.MaxFileSize)
			if err != nil {
				spool = nil
				part.Close()
				return fail(err)
			}
			src.Name = part.FileName()
		case "encoding":
			v, err := readField(part)
			if err != nil {
				return fail(err)
			}
			src.Encoding = v
		}
		part.Close()
	}

	if spool == nil {
		return fail(errNoFile)
	}
	if src.Encoding == "" {
		src.Encoding = s.cfg.Ingest.DefaultEncoding
	}
	if _, err := core.NormalizeEncoding(src.Encoding); err != nil {
		return fail(err)
	}
	src.Reader = spool
	return src, nil
}

func readField(part *multipart.Part) (string, error) {
	var b bytes.Buffer
	n, err := io.Copy(&b, io.LimitReader(part, maxFieldSize+1))
	if err != nil {
		return "", fmt.Errorf("read field %s: %w", part.FormName(), err)
	}
	if n > maxFieldSize {
		return "", fmt.Errorf("%w: field %s too long", errBadRequest, part.FormName())
	}
	return strings.TrimSpace(b.String()), nil
}

// handleIngestProgress streams ingestion progress via Server-Sent Events.
func (s *Server) handleIngestProgress(w http.ResponseWriter, r *http.Request) {
	ch, err := s.service.SubscribeIngest(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	streamEvents(w, r, ch, func(p core.IngestProgress) bool { return p.Phase.Terminal() })
}

// ingestResultResponse summarizes a published IngestionResult.
type ingestResultResponse struct {
	*core.IngestionResult
	RetainedValid    int   `json:"retained_valid"`
	RetainedFailures int   `json:"retained_failures"`
	DurationMS       int64 `json:"duration_ms"`
}

func (s *Server) handleIngestResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.IngestResult(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResultResponse{
		IngestionResult:  res,
		RetainedValid:    res.RetainedValid(),
		RetainedFailures: len(res.Failures),
		DurationMS:       res.Duration.Milliseconds(),
	})
}

func (s *Server) handleCancelIngest(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelIngest(chi.URLParam(r, "sessionID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// previewQuery reads ?page&page_size&sort&dir&q.
func previewQuery(r *http.Request) core.PreviewQuery {
	q := r.URL.Query()
	return core.PreviewQuery{
		Page:     parseIntParam(r, "page", 1),
		PageSize: parseIntParam(r, "page_size", core.DefaultPageSize),
		Sort:     core.SortSpec{Column: q.Get("sort"), Dir: q.Get("dir")},
		Filter:   q.Get("q"),
	}
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.IngestResult(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, core.PreviewRecords(res, previewQuery(r)))
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.IngestResult(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, core.PreviewFailures(res, previewQuery(r)))
}

// handleExportFailures downloads the rejected rows with their errors so
// they can be fixed and ingested again.
func (s *Server) handleExportFailures(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.IngestResult(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := core.WriteFailedCSV(&buf, res); err != nil {
		s.respondError(w, r, err)
		return
	}
	if n := res.DroppedFailures(); n > 0 {
		w.Header().Set("X-Dropped-Failures", strconv.Itoa(n))
	}
	attachment(w, "text/csv; charset=utf-8", core.FailedExportName)
	w.Write(buf.Bytes())
}

// handleDownloadTemplate serves the blank template as CSV (default) or XLSX.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	var (
		buf         bytes.Buffer
		err         error
		contentType string
		name        string
	)
	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "csv":
		err = core.WriteTemplateCSV(&buf)
		contentType, name = "text/csv; charset=utf-8", core.TemplateCSVName
	case "xlsx":
		err = core.WriteTemplateXLSX(&buf)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		name = core.TemplateXLSXName
	default:
		s.respondError(w, r, fmt.Errorf("%w: unknown template format %q", errBadRequest, format))
		return
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	attachment(w, contentType, name)
	w.Write(buf.Bytes())
}

func attachment(w http.ResponseWriter, contentType, name string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
}
