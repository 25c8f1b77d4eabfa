// Package web provides the HTTP API for the e-invoice ingestion console.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/JonMunkholm/facturas/internal/config"
	"github.com/JonMunkholm/facturas/internal/core"
	mw "github.com/JonMunkholm/facturas/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Per-IP request budget. Chunked uploads send many small requests, so the
// budget is sized for a few hundred chunks per minute.
const (
	rateLimitRequests = 600
	rateLimitWindow   = time.Minute
)

// Server is the HTTP server for the ingestion console.
type Server struct {
	service *core.Service
	cfg     *config.Config
	chunks  *core.ChunkStore
	proxy   *http.Client
	limiter *rateLimiter

	router *chi.Mux
	server *http.Server
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config) (*Server, error) {
	chunks, err := core.NewChunkStore(cfg.Upload.ChunkDir, cfg.Upload.MaxFileSize)
	if err != nil {
		return nil, err
	}

	s := &Server{
		service: service,
		cfg:     cfg,
		chunks:  chunks,
		proxy:   &http.Client{Timeout: cfg.Backend.Timeout},
		limiter: newRateLimiter(rateLimitRequests, rateLimitWindow),
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)

	// Security hardening
	s.router.Use(securityHeaders)
	s.router.Use(s.limiter.middleware)
}

// setupRoutes configures all HTTP routes.
//
// Streaming routes (SSE, file intake, upload result wait) run without the
// request timeout; everything else is bounded by SERVER_REQUEST_TIMEOUT.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))

		// Long-lived requests
		r.Group(func(r chi.Router) {
			r.Post("/sessions/{sessionID}/ingest", s.handleIngest)
			r.Get("/sessions/{sessionID}/ingest/progress", s.handleIngestProgress)
			r.Get("/sessions/{sessionID}/upload/progress", s.handleUploadProgress)
			r.Get("/sessions/{sessionID}/upload/result", s.handleUploadResult)
			r.Post("/chunks", s.handleChunk)
			r.Post("/chunks/complete", s.handleChunksComplete)
			r.Post("/proxy/invoices", s.handleProxyInvoices)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5))
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			r.Get("/template", s.handleDownloadTemplate)
			r.Get("/history", s.handleHistory)

			r.Post("/sessions", s.handleCreateSession)
			r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
			r.Get("/sessions/{sessionID}/status", s.handleStatus)
			r.Get("/sessions/{sessionID}/ingest/result", s.handleIngestResult)
			r.Post("/sessions/{sessionID}/ingest/cancel", s.handleCancelIngest)
			r.Get("/sessions/{sessionID}/records", s.handleRecords)
			r.Get("/sessions/{sessionID}/failures", s.handleFailures)
			r.Get("/sessions/{sessionID}/failures/export", s.handleExportFailures)
			r.Post("/sessions/{sessionID}/upload", s.handleStartUpload)
			r.Post("/sessions/{sessionID}/upload/cancel", s.handleCancelUpload)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps SSE streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// The API serves data only
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// rateLimiter implements a simple fixed-window rate limiter per IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
	done     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a rate limiter with the specified rate per window.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		done:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// cleanup removes stale visitor entries every window until stop is called.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastReset) > rl.window*2 {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// allow checks if the request should be allowed and consumes a token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{
			tokens:    rl.rate - 1, // consume one token
			lastReset: time.Now(),
		}
		return true
	}

	// Reset tokens if window has passed
	if time.Since(v.lastReset) > rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = time.Now()
		return true
	}

	if v.tokens <= 0 {
		return false
	}

	v.tokens--
	return true
}

// middleware returns an HTTP middleware that rate limits by IP.
// RemoteAddr has already been rewritten by TrustedRealIP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate limit exceeded",
				Message: "Too many requests.",
				Action:  "Wait a minute and try again.",
				Code:    "RATE001",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
