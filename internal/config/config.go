// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Ingest   IngestConfig
	Dispatch DispatchConfig
	Upload   UploadConfig
	Session  SessionConfig
	Backend  BackendConfig
	History  HistoryConfig
	Redis    RedisConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 5m for large files)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"5m"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// IngestConfig holds parsing and validation limits.
type IngestConfig struct {
	// PreviewCap is the number of valid records retained per session (default: 1000000)
	PreviewCap int `env:"INGEST_PREVIEW_CAP" default:"1000000"`

	// ErrorCap is the number of validation failures retained per session (default: 5000)
	ErrorCap int `env:"INGEST_ERROR_CAP" default:"5000"`

	// DefaultEncoding is used when the client does not name one: utf-8, windows-1252, iso-8859-1
	DefaultEncoding string `env:"INGEST_DEFAULT_ENCODING" default:"utf-8"`
}

// DispatchConfig holds settings for sending records to the invoicing backend.
type DispatchConfig struct {
	// Endpoint receives one POST per record; falls back to BACKEND_INVOICES_URL
	Endpoint string `env:"DISPATCH_ENDPOINT" envAlt:"BACKEND_INVOICES_URL"`

	// Concurrency is the batch size and in-flight request bound (default: 5)
	Concurrency int `env:"DISPATCH_CONCURRENCY" default:"5"`

	// MaxRetries is the number of attempts per record (default: 3)
	MaxRetries int `env:"DISPATCH_MAX_RETRIES" default:"3"`

	// Timeout bounds each individual request (default: 30s)
	Timeout time.Duration `env:"DISPATCH_TIMEOUT" default:"30s"`

	// BackoffBase is multiplied by 2^n after the n-th failed attempt (default: 500ms)
	BackoffBase time.Duration `env:"DISPATCH_BACKOFF_BASE" default:"500ms"`

	// BackoffMax caps the delay between attempts (default: 30s)
	BackoffMax time.Duration `env:"DISPATCH_BACKOFF_MAX" default:"30s"`
}

// UploadConfig holds file intake and upload run limits.
type UploadConfig struct {
	// MaxFileSize is the maximum accepted file size in bytes (default: 1GB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"1073741824"`

	// MaxConcurrent is the maximum number of upload runs across sessions (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an upload slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// ChunkDir stores partial chunked uploads (default: OS temp dir)
	ChunkDir string `env:"UPLOAD_CHUNK_DIR"`

	// SpoolDir stores received files while they are parsed (default: OS temp dir)
	SpoolDir string `env:"UPLOAD_SPOOL_DIR"`
}

// SessionConfig holds workspace lifecycle settings.
type SessionConfig struct {
	// TTL is how long an idle session is kept (default: 2h)
	TTL time.Duration `env:"SESSION_TTL" default:"2h"`

	// SweepInterval is how often idle sessions are evicted (default: 5m)
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" default:"5m"`
}

// BackendConfig holds the invoicing backend used by the proxy endpoint.
type BackendConfig struct {
	// InvoicesURL is where /api/proxy/invoices relays requests
	InvoicesURL string `env:"BACKEND_INVOICES_URL" envAlt:"API_URL"`

	// Timeout bounds a proxied request (default: 30s)
	Timeout time.Duration `env:"BACKEND_TIMEOUT" default:"30s"`
}

// HistoryConfig selects where finished ingestions and uploads are recorded.
type HistoryConfig struct {
	// Driver is one of: none, postgres, sqlite, mysql (default: none)
	Driver string `env:"HISTORY_DRIVER" default:"none"`

	// DSN is the connection string for the chosen driver
	DSN string `env:"HISTORY_DSN" envAlt:"DATABASE_URL"`

	// MaxConns is the maximum number of pooled connections (default: 10)
	MaxConns int `env:"HISTORY_MAX_CONNS" default:"10"`
}

// RedisConfig holds the progress snapshot cache settings.
type RedisConfig struct {
	// Addr enables the cache when set, e.g. 127.0.0.1:6379
	Addr string `env:"REDIS_ADDR"`

	Username string `env:"REDIS_USERNAME"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" default:"0"`

	// SnapshotTTL is how long a progress snapshot is kept (default: 24h)
	SnapshotTTL time.Duration `env:"REDIS_SNAPSHOT_TTL" default:"24h"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key validation on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// RedisEnabled reports whether a progress cache should be created.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
