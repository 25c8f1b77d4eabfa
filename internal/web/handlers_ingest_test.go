package web

import (
	"bufio"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JonMunkholm/facturas/internal/core"
	"github.com/JonMunkholm/facturas/internal/schema"
)

func TestIngest_ReviewFlow(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	id := createSession(t, s)

	final := ingest(t, s, id, "facturas.csv", invoiceCSV(3, 2))
	if final.Phase != core.IngestComplete || final.Valid != 3 || final.Failed != 2 {
		t.Fatalf("final progress = %+v", final)
	}

	t.Run("result", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/sessions/"+id+"/ingest/result", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		got := decode[ingestResultResponse](t, rec)
		if got.ValidCount != 3 || got.FailedCount != 2 || got.RetainedValid != 3 || got.RetainedFailures != 2 {
			t.Errorf("result = %+v", got)
		}
	})

	t.Run("records paged", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/sessions/"+id+"/records?page=2&page_size=2", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		page := decode[core.Page[schema.Invoice]](t, rec)
		if page.TotalItems != 3 || page.Page != 2 || len(page.Items) != 1 {
			t.Errorf("page = %+v", page)
		}
	})

	t.Run("failures", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/sessions/"+id+"/failures", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		page := decode[core.Page[core.ValidationFailure]](t, rec)
		if page.TotalItems != 2 || len(page.Items[0].Errors) == 0 {
			t.Errorf("page = %+v", page)
		}
	})

	t.Run("export failures", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/sessions/"+id+"/failures/export", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if !strings.Contains(rec.Header().Get("Content-Disposition"), core.FailedExportName) {
			t.Errorf("disposition = %q", rec.Header().Get("Content-Disposition"))
		}
		rows, err := csv.NewReader(rec.Body).ReadAll()
		if err != nil {
			t.Fatalf("read export: %v", err)
		}
		if len(rows) != 3 {
			t.Fatalf("export rows = %d, want header + 2", len(rows))
		}
		if last := rows[0][len(rows[0])-1]; last != "errors" {
			t.Errorf("last column = %q, want errors", last)
		}
	})
}

func TestIngest_ProgressStream(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	id := createSession(t, s)
	ingest(t, s, id, "facturas.csv", invoiceCSV(2, 0))

	resp, err := http.Get(srv.URL + "/api/sessions/" + id + "/ingest/progress")
	if err != nil {
		t.Fatalf("GET progress: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	if len(events) == 0 || events[len(events)-1] != "complete" {
		t.Errorf("events = %v, want to end with complete", events)
	}
}

func TestIngest_Errors(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	id := createSession(t, s)
	big := invoiceHeader + strings.Repeat("x", 70<<10)

	tests := []struct {
		name       string
		session    string
		file       string
		content    string
		encoding   string
		rawBody    bool
		wantStatus int
		wantCode   string
	}{
		{"unknown session", "nope", "f.csv", invoiceCSV(1, 0), "", false, http.StatusNotFound, "SES001"},
		{"unsupported extension", id, "f.xlsx", "x", "", false, http.StatusUnsupportedMediaType, "FILE004"},
		{"missing file", id, "", "", "", false, http.StatusBadRequest, "FILE006"},
		{"unknown encoding", id, "f.csv", invoiceCSV(1, 0), "utf-16", false, http.StatusBadRequest, "FILE005"},
		{"not multipart", id, "", "", "", true, http.StatusBadRequest, "REQ001"},
		{"too large", id, "f.csv", big, "", false, http.StatusRequestEntityTooLarge, "FILE001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/api/sessions/" + tt.session + "/ingest"
			var rec *httptest.ResponseRecorder
			if tt.rawBody {
				rec = do(t, s, http.MethodPost, path, strings.NewReader("{}"), http.Header{"Content-Type": {"application/json"}})
			} else {
				body, h := multipartFile(t, tt.file, tt.content, tt.encoding)
				rec = do(t, s, http.MethodPost, path, body, h)
			}

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if got := decode[ErrorResponse](t, rec); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestIngest_LatinEncoding(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	id := createSession(t, s)

	// "EMITIDO ó" in windows-1252
	content := invoiceHeader + "00000000-0000-4000-8000-000000000001,11111111-1111-4111-8111-000000000001,API_BATCH,<rDE/>,EMITIDO \xf3\n"
	body, h := multipartFile(t, "f.csv", content, "windows-1252")
	if rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/ingest", body, h); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	waitIngest(t, s.service, id)

	res, err := s.service.IngestResult(id)
	if err != nil {
		t.Fatalf("IngestResult: %v", err)
	}
	if len(res.Valid) != 1 || res.Valid[0].Status != "EMITIDO ó" {
		t.Errorf("valid = %+v", res.Valid)
	}
}

func TestCancelIngest_NothingRunning(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	id := createSession(t, s)

	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/ingest/cancel", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/sessions/nope/ingest/cancel", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestPreviewQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?page=0&page_size=abc&sort=status&dir=desc&q=sifen", nil)
	q := previewQuery(r)
	if q.Page != 1 || q.PageSize != core.DefaultPageSize {
		t.Errorf("paging = %d/%d, want defaults", q.Page, q.PageSize)
	}
	if q.Sort.Column != "status" || q.Sort.Dir != "desc" || q.Filter != "sifen" {
		t.Errorf("query = %+v", q)
	}
}
