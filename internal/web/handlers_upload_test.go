package web

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/JonMunkholm/facturas/internal/core"
	"github.com/google/uuid"
)

// recordingBackend accepts every record and remembers the headers it saw.
type recordingBackend struct {
	mu      sync.Mutex
	auth    []string
	reqIDs  []string
	records int
}

func (b *recordingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	io.Copy(io.Discard, r.Body)
	b.mu.Lock()
	b.auth = append(b.auth, r.Header.Get("Authorization"))
	b.reqIDs = append(b.reqIDs, r.Header.Get("X-Request-ID"))
	b.records++
	b.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func TestUpload_Flow(t *testing.T) {
	backend := &recordingBackend{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	s := newTestServer(t, testConfig(t), srv.URL)
	id := createSession(t, s)

	if rec := do(t, s, http.MethodGet, "/api/sessions/"+id+"/upload/result?wait=false", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("result before upload status = %d, want 404", rec.Code)
	}

	ingest(t, s, id, "facturas.csv", invoiceCSV(3, 1))

	rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/upload", nil, http.Header{
		"Authorization": {"Bearer tok"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start upload status = %d, body %s", rec.Code, rec.Body)
	}
	if p := decode[core.UploadProgress](t, rec); p.Total != 3 {
		t.Errorf("accepted progress = %+v", p)
	}

	rec = do(t, s, http.MethodGet, "/api/sessions/"+id+"/upload/result", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d, body %s", rec.Code, rec.Body)
	}
	sum := decode[core.UploadSummary](t, rec)
	if sum.Succeeded != 3 || sum.Failed != 0 || sum.Cancelled {
		t.Errorf("summary = %+v", sum)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.records != 3 {
		t.Fatalf("backend saw %d records, want 3", backend.records)
	}
	for i := range backend.auth {
		if backend.auth[i] != "Bearer tok" {
			t.Errorf("record %d Authorization = %q", i, backend.auth[i])
		}
		if backend.reqIDs[i] == "" {
			t.Errorf("record %d has no X-Request-ID", i)
		}
	}
}

func TestUpload_Errors(t *testing.T) {
	t.Run("review only", func(t *testing.T) {
		s := newTestServer(t, testConfig(t), "")
		id := createSession(t, s)
		ingest(t, s, id, "facturas.csv", invoiceCSV(1, 0))

		rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/upload", nil, nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		if got := decode[ErrorResponse](t, rec); got.Code != "UPL006" {
			t.Errorf("code = %q, want UPL006", got.Code)
		}
	})

	t.Run("nothing valid", func(t *testing.T) {
		srv := httptest.NewServer(&recordingBackend{})
		defer srv.Close()
		s := newTestServer(t, testConfig(t), srv.URL)
		id := createSession(t, s)
		ingest(t, s, id, "facturas.csv", invoiceCSV(0, 2))

		rec := do(t, s, http.MethodPost, "/api/sessions/"+id+"/upload", nil, nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
		if got := decode[ErrorResponse](t, rec); got.Code != "VAL001" {
			t.Errorf("code = %q, want VAL001", got.Code)
		}
	})
}

func postChunk(t *testing.T, s *Server, uploadID, index string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("upload_id", uploadID)
	mw.WriteField("index", index)
	fw, err := mw.CreateFormFile("chunk", "blob")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	return do(t, s, http.MethodPost, "/api/chunks", &buf, http.Header{"Content-Type": {mw.FormDataContentType()}})
}

func completeChunks(t *testing.T, s *Server, req chunksCompleteRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return do(t, s, http.MethodPost, "/api/chunks/complete", bytes.NewReader(body), http.Header{"Content-Type": {"application/json"}})
}

func TestChunks_Flow(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	id := createSession(t, s)
	uploadID := uuid.NewString()

	data := []byte(invoiceCSV(4, 1))
	half := len(data) / 2
	parts := [][]byte{data[:half], data[half:]}

	// Out of order on purpose.
	for _, i := range []int{1, 0} {
		rec := postChunk(t, s, uploadID, strconv.Itoa(i), parts[i])
		if rec.Code != http.StatusOK {
			t.Fatalf("chunk %d status = %d, body %s", i, rec.Code, rec.Body)
		}
	}

	rec := completeChunks(t, s, chunksCompleteRequest{UploadID: uploadID, FileName: "grande.csv", SessionID: id})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("complete status = %d, body %s", rec.Code, rec.Body)
	}

	final := waitIngest(t, s.service, id)
	if final.Phase != core.IngestComplete || final.Valid != 4 || final.Failed != 1 {
		t.Errorf("final = %+v", final)
	}
	if final.FileName != "grande.csv" {
		t.Errorf("file name = %q", final.FileName)
	}

	// Parts are consumed by the assembly.
	rec = completeChunks(t, s, chunksCompleteRequest{UploadID: uploadID, FileName: "grande.csv", SessionID: id})
	if rec.Code != http.StatusNotFound {
		t.Errorf("second complete status = %d, want 404", rec.Code)
	}
}

func TestChunks_Errors(t *testing.T) {
	s := newTestServer(t, testConfig(t), "")
	id := createSession(t, s)

	tests := []struct {
		name       string
		rec        func() *httptest.ResponseRecorder
		wantStatus int
		wantCode   string
	}{
		{"bad upload id", func() *httptest.ResponseRecorder {
			return postChunk(t, s, "../etc", "0", []byte("x"))
		}, http.StatusBadRequest, "UPL008"},
		{"negative index", func() *httptest.ResponseRecorder {
			return postChunk(t, s, uuid.NewString(), "-1", []byte("x"))
		}, http.StatusBadRequest, "UPL008"},
		{"non numeric index", func() *httptest.ResponseRecorder {
			return postChunk(t, s, uuid.NewString(), "first", []byte("x"))
		}, http.StatusBadRequest, "REQ001"},
		{"chunk too large", func() *httptest.ResponseRecorder {
			return postChunk(t, s, uuid.NewString(), "0", bytes.Repeat([]byte("x"), 70<<10))
		}, http.StatusRequestEntityTooLarge, "FILE001"},
		{"complete missing fields", func() *httptest.ResponseRecorder {
			return completeChunks(t, s, chunksCompleteRequest{UploadID: uuid.NewString()})
		}, http.StatusBadRequest, "REQ001"},
		{"complete unknown upload", func() *httptest.ResponseRecorder {
			return completeChunks(t, s, chunksCompleteRequest{UploadID: uuid.NewString(), FileName: "f.csv", SessionID: id})
		}, http.StatusNotFound, "UPL007"},
		{"complete unknown session", func() *httptest.ResponseRecorder {
			return completeChunks(t, s, chunksCompleteRequest{UploadID: uuid.NewString(), FileName: "f.csv", SessionID: "nope"})
		}, http.StatusNotFound, "SES001"},
		{"complete bad encoding", func() *httptest.ResponseRecorder {
			return completeChunks(t, s, chunksCompleteRequest{UploadID: uuid.NewString(), FileName: "f.csv", SessionID: id, Encoding: "ebcdic"})
		}, http.StatusBadRequest, "FILE005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec()
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if got := decode[ErrorResponse](t, rec); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}
