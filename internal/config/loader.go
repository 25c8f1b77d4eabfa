package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from the process environment, applies tag
// defaults and validates the result. Only HISTORY_DSN becomes mandatory, and
// only when a history driver is chosen.
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// lookupFunc has the signature of os.LookupEnv.
type lookupFunc func(string) (string, bool)

func load(lookup lookupFunc) (*Config, error) {
	cfg := &Config{}
	if err := fill(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// fill walks the section structs and sets every field carrying an env tag.
// Tags: env (primary name), envAlt (fallback name), default, required.
// Every bad variable is reported, not just the first.
func fill(v reflect.Value, lookup lookupFunc) error {
	var errs []error
	t := v.Type()

	for i := range t.NumField() {
		sf, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if sf.Type.Kind() == reflect.Struct {
			if err := fill(fv, lookup); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw := firstSet(lookup, name, sf.Tag.Get("envAlt"))
		if raw == "" {
			if sf.Tag.Get("required") == "true" {
				errs = append(errs, fmt.Errorf("required environment variable %s is not set", name))
				continue
			}
			raw = sf.Tag.Get("default")
		}
		if raw == "" {
			continue
		}
		if err := assign(fv, raw); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", name, raw, err))
		}
	}
	return errors.Join(errs...)
}

// firstSet returns the first non-empty variable among names.
func firstSet(lookup lookupFunc, names ...string) string {
	for _, n := range names {
		if n == "" {
			continue
		}
		if v, ok := lookup(n); ok && v != "" {
			return v
		}
	}
	return ""
}

// assign parses raw into the field according to its kind. Durations use
// time.ParseDuration; string slices are comma separated.
func assign(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		fv.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		fv.SetBool(b)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", fv.Type().Elem().Kind())
		}
		var items []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		fv.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type: %s", fv.Kind())
	}
	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Ingest validation
	if c.Ingest.PreviewCap <= 0 {
		errs = append(errs, "INGEST_PREVIEW_CAP must be positive")
	}
	if c.Ingest.ErrorCap <= 0 {
		errs = append(errs, "INGEST_ERROR_CAP must be positive")
	}
	validEncodings := map[string]bool{"utf-8": true, "utf8": true, "windows-1252": true, "iso-8859-1": true, "latin1": true}
	if !validEncodings[strings.ToLower(c.Ingest.DefaultEncoding)] {
		errs = append(errs, fmt.Sprintf("INGEST_DEFAULT_ENCODING (%q) must be one of: utf-8, windows-1252, iso-8859-1", c.Ingest.DefaultEncoding))
	}

	// Dispatch validation
	if c.Dispatch.Endpoint != "" {
		if u, err := url.Parse(c.Dispatch.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("DISPATCH_ENDPOINT (%q) must be an absolute URL", c.Dispatch.Endpoint))
		}
	}
	if c.Dispatch.Concurrency <= 0 {
		errs = append(errs, "DISPATCH_CONCURRENCY must be positive")
	}
	if c.Dispatch.MaxRetries <= 0 {
		errs = append(errs, "DISPATCH_MAX_RETRIES must be positive")
	}
	if c.Dispatch.Timeout <= 0 {
		errs = append(errs, "DISPATCH_TIMEOUT must be positive")
	}
	if c.Dispatch.BackoffBase < 0 {
		errs = append(errs, "DISPATCH_BACKOFF_BASE must be non-negative")
	}
	if c.Dispatch.BackoffMax < c.Dispatch.BackoffBase {
		errs = append(errs, fmt.Sprintf("DISPATCH_BACKOFF_MAX (%s) must be >= DISPATCH_BACKOFF_BASE (%s)",
			c.Dispatch.BackoffMax, c.Dispatch.BackoffBase))
	}

	// Upload validation
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.Upload.MaxConcurrent <= 0 {
		errs = append(errs, "UPLOAD_MAX_CONCURRENT must be positive")
	}
	if c.Upload.MaxWaitTime <= 0 {
		errs = append(errs, "UPLOAD_MAX_WAIT_TIME must be positive")
	}

	// Session validation
	if c.Session.TTL <= 0 {
		errs = append(errs, "SESSION_TTL must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, "SESSION_SWEEP_INTERVAL must be positive")
	}

	// Backend validation
	if c.Backend.Timeout <= 0 {
		errs = append(errs, "BACKEND_TIMEOUT must be positive")
	}

	// History validation
	switch strings.ToLower(c.History.Driver) {
	case "none", "":
	case "postgres", "sqlite", "mysql":
		if c.History.DSN == "" {
			errs = append(errs, fmt.Sprintf("HISTORY_DSN is required when HISTORY_DRIVER=%s", c.History.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("HISTORY_DRIVER (%q) must be one of: none, postgres, sqlite, mysql", c.History.Driver))
	}
	if c.History.MaxConns <= 0 {
		errs = append(errs, "HISTORY_MAX_CONNS must be positive")
	}

	// Redis validation
	if c.Redis.DB < 0 {
		errs = append(errs, "REDIS_DB must be non-negative")
	}
	if c.RedisEnabled() && c.Redis.SnapshotTTL <= 0 {
		errs = append(errs, "REDIS_SNAPSHOT_TTL must be positive")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Credentials, DSNs and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Ingest: {PreviewCap: %d, ErrorCap: %d, Encoding: %q}, ",
		c.Ingest.PreviewCap, c.Ingest.ErrorCap, c.Ingest.DefaultEncoding))
	b.WriteString(fmt.Sprintf("Dispatch: {Endpoint: %q, Concurrency: %d, MaxRetries: %d, Timeout: %s}, ",
		maskURL(c.Dispatch.Endpoint), c.Dispatch.Concurrency, c.Dispatch.MaxRetries, c.Dispatch.Timeout))
	b.WriteString(fmt.Sprintf("Upload: {MaxFileSize: %d, MaxConcurrent: %d}, ",
		c.Upload.MaxFileSize, c.Upload.MaxConcurrent))
	b.WriteString(fmt.Sprintf("History: {Driver: %q, DSN: [MASKED]}, ", c.History.Driver))
	b.WriteString(fmt.Sprintf("Redis: {Addr: %q, Password: [MASKED]}, ", c.Redis.Addr))
	b.WriteString(fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: %d configured}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

// maskURL drops user info from a URL so it can be logged.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("[MASKED]")
	return u.String()
}
