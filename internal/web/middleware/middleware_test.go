package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JonMunkholm/facturas/internal/config"
	"github.com/JonMunkholm/facturas/internal/logging"
)

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name       string
		cfg        config.SecurityConfig
		key        string
		wantStatus int
		wantCode   string
	}{
		{"disabled", config.SecurityConfig{}, "", http.StatusNoContent, ""},
		{"missing key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"a"}}, "", http.StatusUnauthorized, "AUTH001"},
		{"wrong key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"a"}}, "b", http.StatusForbidden, "AUTH002"},
		{"second key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"a", "b"}}, "b", http.StatusNoContent, ""},
		{"no keys configured", config.SecurityConfig{RequireAPIKey: true}, "a", http.StatusForbidden, "AUTH002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			APIKeyAuth(&tt.cfg)(ok).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantCode == "" {
				return
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("body is not JSON: %s", rec.Body)
			}
			if body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
		})
	}
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{"untrusted proxy ignored", []string{"10.0.0.0/8"}, "192.0.2.1:1234",
			map[string]string{"X-Real-IP": "203.0.113.9"}, "192.0.2.1:1234"},
		{"trusted real ip", []string{"10.0.0.0/8"}, "10.1.2.3:1234",
			map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"trusted forwarded for", []string{"127.0.0.1"}, "127.0.0.1:80",
			map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "203.0.113.9"},
		{"invalid header ignored", []string{"10.0.0.0/8"}, "10.1.2.3:1234",
			map[string]string{"X-Real-IP": "not-an-ip"}, "10.1.2.3:1234"},
		{"ipv6 proxy", []string{"::1"}, "[::1]:443",
			map[string]string{"X-Real-IP": "2001:db8::1"}, "2001:db8::1"},
		{"bad cidr skipped", []string{"garbage", ""}, "10.1.2.3:1234",
			map[string]string{"X-Real-IP": "203.0.113.9"}, "10.1.2.3:1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logging.New(&buf, "debug", "json"))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sessions/x/status", nil))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log is not JSON: %v (%s)", err, buf.String())
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	if entry["status"] != float64(http.StatusNotFound) || entry["bytes"] != float64(len("missing")) {
		t.Errorf("entry = %v", entry)
	}
	if !strings.HasSuffix(entry["path"].(string), "/status") {
		t.Errorf("path = %v", entry["path"])
	}
}

func TestResponseWriter_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	ww := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	if err := http.NewResponseController(ww).Flush(); err != nil {
		t.Errorf("Flush through wrapper: %v", err)
	}
	if !rec.Flushed {
		t.Error("underlying recorder was not flushed")
	}
}
