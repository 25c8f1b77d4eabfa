package core

// dispatcher.go sends validated invoices to the invoicing backend.
//
// Records are cut into fixed-size batches of Concurrency records. All
// requests of a batch run in parallel and the whole batch settles before the
// next one starts, so at most Concurrency requests are ever in flight.
// Each record is retried on its own under the dispatcher's RetryPolicy.
// Cancelling the context aborts every in-flight request and stops
// scheduling; outcomes already produced are kept.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/JonMunkholm/facturas/internal/schema"
	"golang.org/x/sync/errgroup"
)

// Dispatcher defaults.
const (
	DefaultConcurrency = 5
	DefaultMaxRetries  = 3
	DefaultTimeout     = 30 * time.Second
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffMax  = 30 * time.Second

	maxErrorBody = 64 << 10
)

// DispatchConfig is passed explicitly; the dispatcher reads no environment.
type DispatchConfig struct {
	Endpoint    string
	Concurrency int
	MaxRetries  int           // total attempts per record
	Timeout     time.Duration // per request
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BackoffBase < 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	return c
}

// HTTPError is a non-2xx answer from the backend.
type HTTPError struct {
	StatusCode int
	Message    string // JSON "message" field, or "<status> <statusText>"
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string { return e.Message }

// RetryDelay honors a Retry-After header.
func (e *HTTPError) RetryDelay() time.Duration { return e.RetryAfter }

// DispatchHooks carries per-run options and observers. Callbacks are
// serialized by the dispatcher and must not block for long.
type DispatchHooks struct {
	AuthHeader string // forwarded as Authorization when set
	RequestID  string // forwarded as X-Request-ID when set

	OnOutcome  func(UploadOutcome)
	OnProgress func(UploadProgress)
}

// Dispatcher posts invoices to one endpoint.
type Dispatcher struct {
	cfg    DispatchConfig
	client *http.Client
	policy RetryPolicy
}

// NewDispatcher validates cfg. A nil client selects a fresh http.Client;
// per-request timeouts are applied through the request context either way.
func NewDispatcher(cfg DispatchConfig, client *http.Client) (*Dispatcher, error) {
	if cfg.Endpoint == "" {
		return nil, ErrEndpointNotConfigured
	}
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{}
	}

	return &Dispatcher{
		cfg:    cfg,
		client: client,
		policy: RetryPolicy{
			MaxAttempts: cfg.MaxRetries,
			Backoff:     ExponentialBackoff(cfg.BackoffBase, cfg.BackoffMax),
			MaxDelay:    cfg.BackoffMax,
			Retryable:   retryable,
		},
	}, nil
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() DispatchConfig { return d.cfg }

// Upload sends records batch by batch and returns when every started batch
// has settled. It never returns an error: per-record failures are part of
// the summary, and cancellation is reported through Summary.Cancelled.
func (d *Dispatcher) Upload(ctx context.Context, records []schema.Invoice, hooks DispatchHooks) UploadSummary {
	size := d.cfg.Concurrency
	total := len(records)
	batches := (total + size - 1) / size

	sum := UploadSummary{Total: total, StartedAt: time.Now()}
	var mu sync.Mutex

	for b := 0; b < batches; b++ {
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}
		sum.Batches++

		lo := b * size
		hi := min(lo+size, total)

		var g errgroup.Group
		g.SetLimit(size)
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				out := d.send(ctx, i, records[i], hooks)

				mu.Lock()
				defer mu.Unlock()
				sum.apply(out)
				if hooks.OnOutcome != nil {
					hooks.OnOutcome(out)
				}
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			sum.Cancelled = true
		}
		if hooks.OnProgress != nil {
			hooks.OnProgress(sum.progress(UploadRunning, b+1, batches))
		}
		if sum.Cancelled {
			break
		}
	}

	sum.CompletedAt = time.Now()
	sum.Duration = sum.CompletedAt.Sub(sum.StartedAt)
	return sum
}

func (s *UploadSummary) apply(out UploadOutcome) {
	switch {
	case out.Succeeded:
		s.Processed++
		s.Succeeded++
	case out.Cancelled:
	default:
		s.Processed++
		s.Failed++
		s.Errors = append(s.Errors, RecordError{
			Record:   out.Record,
			Error:    out.Error,
			Code:     out.Code,
			Attempts: out.Attempts,
		})
	}
}

func (s *UploadSummary) progress(phase UploadPhase, batch, batches int) UploadProgress {
	return UploadProgress{
		Phase:          phase,
		Total:          s.Total,
		Processed:      s.Processed,
		Succeeded:      s.Succeeded,
		Failed:         s.Failed,
		Batch:          batch,
		Batches:        batches,
		Percent:        percentOf(s.Processed, s.Total),
		SuccessPercent: percentOf(s.Succeeded, s.Total),
	}
}

// send delivers one record with retries and classifies the final result.
func (d *Dispatcher) send(ctx context.Context, idx int, rec schema.Invoice, hooks DispatchHooks) UploadOutcome {
	out := UploadOutcome{Index: idx, Record: rec}

	body, err := json.Marshal(rec)
	if err != nil {
		out.Code = CodeUnknown
		out.Error = fmt.Sprintf("encode record: %v", err)
		return out
	}

	attempts, err := Retry(ctx, d.policy, func(ctx context.Context, _ int) error {
		return d.post(ctx, body, hooks)
	})
	out.Attempts = attempts
	if err == nil {
		out.Succeeded = true
		return out
	}

	out.Code, out.StatusCode, out.Error = classify(err, d.cfg.Timeout)
	out.Cancelled = out.Code == CodeCancelled
	return out
}

// post makes a single attempt bounded by the per-request timeout.
func (d *Dispatcher) post(ctx context.Context, body []byte, hooks DispatchHooks) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	if hooks.AuthHeader != "" {
		req.Header.Set("Authorization", hooks.AuthHeader)
	}
	if hooks.RequestID != "" {
		req.Header.Set("X-Request-ID", hooks.RequestID)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Message:    errorMessage(resp, raw),
		Body:       string(raw),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// errorMessage prefers a JSON "message" field over the status line.
func errorMessage(resp *http.Response, body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	if resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// retryable retries every failed attempt, whatever the status, unless the
// upload itself was stopped.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// classify maps the last error of a record to an outcome code. Only an
// attempt aborted by the stopped upload counts as cancelled; a record whose
// final attempt already failed keeps its failure.
func classify(err error, timeout time.Duration) (code string, status int, msg string) {
	if errors.Is(err, context.Canceled) {
		return CodeCancelled, 0, ErrUploadCancelled.Error()
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return CodeHTTPError, httpErr.StatusCode, httpErr.Message
	}

	switch code := TransportErrorCode(err); code {
	case CodeTimeout:
		return code, 0, fmt.Sprintf("request timed out after %s", timeout)
	case CodeNetworkError:
		return code, 0, fmt.Sprintf("network error: %v", err)
	default:
		return code, 0, err.Error()
	}
}

// TransportErrorCode names the failure of a request that got no response:
// CodeTimeout, CodeNetworkError or CodeUnknown.
func TransportErrorCode(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return CodeTimeout
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return CodeNetworkError
	}
	return CodeUnknown
}
