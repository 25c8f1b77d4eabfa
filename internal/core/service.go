package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/JonMunkholm/facturas/internal/logging"
	"github.com/google/uuid"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 2 * time.Hour

// persistTimeout bounds history and cache writes done after a run ends.
const persistTimeout = 5 * time.Second

// ServiceConfig wires the service. A zero Dispatch.Endpoint disables uploads.
type ServiceConfig struct {
	Controller ControllerConfig
	Dispatch   DispatchConfig
	HTTPClient *http.Client

	MaxConcurrentUploads int
	UploadWaitTime       time.Duration
	SessionTTL           time.Duration
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithHistory journals finished runs in h.
func WithHistory(h HistoryStore) Option {
	return func(s *Service) { s.history = h }
}

// WithProgressCache mirrors session status into c.
func WithProgressCache(c ProgressCache) Option {
	return func(s *Service) { s.cache = c }
}

// Service provides the session-oriented business logic: ingest a file,
// review it, upload its valid records.
type Service struct {
	cfg        ServiceConfig
	validator  *Validator
	dispatcher *Dispatcher // nil when no endpoint is configured
	limiter    *UploadLimiter
	history    HistoryStore
	cache      ProgressCache
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService creates a Service instance.
func NewService(cfg ServiceConfig, opts ...Option) (*Service, error) {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}

	s := &Service{
		cfg:       cfg,
		validator: NewValidator(nil),
		limiter:   NewUploadLimiter(cfg.MaxConcurrentUploads, cfg.UploadWaitTime),
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}

	d, err := NewDispatcher(cfg.Dispatch, cfg.HTTPClient)
	switch {
	case err == nil:
		s.dispatcher = d
	case errors.Is(err, ErrEndpointNotConfigured):
		// Review-only mode: StartUpload reports the missing endpoint.
	default:
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// UploadsEnabled reports whether an upload endpoint is configured.
func (s *Service) UploadsEnabled() bool { return s.dispatcher != nil }

// LimiterStatus exposes the global upload slots.
func (s *Service) LimiterStatus() UploadLimiterStatus { return s.limiter.Status() }

// WaitForUploads blocks until every running upload finished or ctx is done.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CreateSession opens a new, idle session.
func (s *Service) CreateSession() SessionInfo {
	now := s.now()
	sess := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		lastActive: now,
	}
	sess.controller = NewController(s.cfg.Controller, s.validator, func(run uint64, p IngestProgress) {
		p.SessionID = sess.ID
		bus := sess.ingestBusFor(run)
		if bus == nil {
			return
		}
		if p.Phase.Terminal() {
			bus.finish(p)
			return
		}
		bus.publish(p)
	})

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess.info()
}

// Session returns the public view of a session.
func (s *Service) Session(id string) (SessionInfo, error) {
	sess, err := s.session(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return sess.info(), nil
}

// DeleteSession cancels everything running in the session and forgets it.
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.stop()
	return nil
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// session looks up id and marks it active.
func (s *Service) session(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.touch(s.now())
	return sess, nil
}

// StartIngest parses and validates src in the background, replacing the
// session's previous file. If src.Reader is an io.Closer it is closed when
// the run ends. Progress is available through SubscribeIngest.
func (s *Service) StartIngest(ctx context.Context, sessionID string, src SourceFile) error {
	sess, err := s.session(sessionID)
	if err != nil {
		closeSource(src)
		return err
	}

	runCtx := logging.Detach(ctx, "session_id", sess.ID, "file", src.Name)
	clientIP := GetIPAddressFromContext(ctx)

	// startMu keeps the claim of a controller run and the installation of
	// its bus together, so the bus installed last belongs to the run claimed
	// last. The claim comes first: events of an older run that finishes in
	// between still reach the older bus.
	sess.startMu.Lock()
	if run := sess.currentUpload(); run != nil && run.running() {
		sess.startMu.Unlock()
		closeSource(src)
		return ErrUploadInProgress
	}
	gen, ingest := sess.controller.Start(runCtx, src)

	bus := newBroadcaster(IngestProgress{
		SessionID: sess.ID,
		FileName:  src.Name,
		Phase:     IngestParsing,
	})
	sess.mu.Lock()
	previous := sess.ingestBus
	sess.ingestBus = bus
	sess.ingestRun = gen
	sess.mu.Unlock()
	sess.startMu.Unlock()

	if previous != nil {
		previous.finish(previous.latest())
	}

	go func() {
		defer closeSource(src)
		log := logging.FromContext(runCtx)
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in ingestion", "panic", r)
				p := bus.latest()
				p.Phase = IngestFailed
				p.Error = fmt.Sprintf("internal error: %v", r)
				bus.finish(p)
			}
		}()

		start := s.now()
		res, err := ingest()
		if errors.Is(err, ErrSuperseded) {
			log.Debug("ingestion superseded")
			return
		}

		entry := HistoryEntry{
			SessionID:   sess.ID,
			Kind:        HistoryIngest,
			FileName:    src.Name,
			Phase:       string(sess.ingestProgress().Phase),
			ClientIP:    clientIP,
			StartedAt:   start,
			CompletedAt: s.now(),
		}
		if err != nil {
			entry.Error = err.Error()
			log.Warn("ingestion failed", "error", err)
		} else {
			entry.Total = res.TotalRowsSeen
			entry.Succeeded = res.ValidCount
			entry.Failed = res.FailedCount
			log.Info("ingestion complete",
				"rows", res.TotalRowsSeen,
				"valid", res.ValidCount,
				"failed", res.FailedCount,
				"duration_ms", res.Duration.Milliseconds(),
			)
		}
		s.persist(runCtx, sess, entry)
	}()

	return nil
}

func closeSource(src SourceFile) {
	if c, ok := src.Reader.(io.Closer); ok {
		_ = c.Close()
	}
}

// SubscribeIngest returns a channel of progress events for the current
// ingestion. It starts with the latest event and is closed after the
// terminal one.
func (s *Service) SubscribeIngest(sessionID string) (<-chan IngestProgress, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	bus := sess.currentIngestBus()
	if bus == nil {
		return nil, ErrNoIngestion
	}
	return bus.subscribe(), nil
}

// IngestProgress returns the latest ingestion event.
func (s *Service) IngestProgress(sessionID string) (IngestProgress, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return IngestProgress{}, err
	}
	return sess.ingestProgress(), nil
}

// IngestResult returns the published result of the session's file.
func (s *Service) IngestResult(sessionID string) (*IngestionResult, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	switch p := sess.ingestProgress(); {
	case p.Phase == IngestIdle:
		return nil, ErrNoIngestion
	case !p.Phase.Terminal():
		return nil, ErrIngestInProgress
	}
	return sess.controller.Result()
}

// CancelIngest stops the ingestion in flight, if any.
func (s *Service) CancelIngest(sessionID string) error {
	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}
	sess.controller.Cancel()
	return nil
}

// UploadRequest carries per-run values forwarded to the backend.
type UploadRequest struct {
	AuthHeader string
	RequestID  string
}

// StartUpload dispatches the session's valid records in the background.
//
// It is refused while the file is still parsing, after a failed parse, when
// there is nothing valid to send, and while another run of the same session
// is active. It waits for a global upload slot and returns ErrTooManyUploads
// if none frees up in time.
func (s *Service) StartUpload(ctx context.Context, sessionID string, req UploadRequest) error {
	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}
	if s.dispatcher == nil {
		return ErrEndpointNotConfigured
	}

	res, err := s.IngestResult(sessionID)
	if err != nil {
		return err
	}
	records := res.Valid
	if len(records) == 0 {
		return ErrNothingToUpload
	}

	size := s.dispatcher.Config().Concurrency
	runCtx, cancel := context.WithCancel(logging.Detach(ctx, "session_id", sess.ID))
	run := &uploadRun{
		cancel: cancel,
		done:   make(chan struct{}),
		bus: newBroadcaster(UploadProgress{
			SessionID: sess.ID,
			Phase:     UploadRunning,
			Total:     len(records),
			Batches:   (len(records) + size - 1) / size,
		}),
	}

	sess.mu.Lock()
	previous := sess.upload
	if previous != nil && previous.running() {
		sess.mu.Unlock()
		cancel()
		return ErrUploadInProgress
	}
	sess.upload = run
	sess.mu.Unlock()

	if err := s.limiter.Acquire(ctx); err != nil {
		sess.mu.Lock()
		if sess.upload == run {
			sess.upload = previous
		}
		sess.mu.Unlock()
		cancel()
		return err
	}

	clientIP := GetIPAddressFromContext(ctx)
	go func() {
		defer s.limiter.Release()
		defer cancel()
		log := logging.FromContext(runCtx)

		start := s.now()
		final := UploadProgress{}
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in upload", "panic", r)
				final = run.bus.latest()
				final.Phase = UploadFailed
				final.Error = fmt.Sprintf("internal error: %v", r)
			}
			run.bus.finish(final)
			close(run.done)

			s.persist(runCtx, sess, HistoryEntry{
				SessionID:   sess.ID,
				Kind:        HistoryUpload,
				FileName:    res.FileName,
				Phase:       string(final.Phase),
				Total:       final.Total,
				Succeeded:   final.Succeeded,
				Failed:      final.Failed,
				Error:       final.Error,
				ClientIP:    clientIP,
				StartedAt:   start,
				CompletedAt: s.now(),
			})
		}()

		sum := s.dispatcher.Upload(runCtx, records, DispatchHooks{
			AuthHeader: req.AuthHeader,
			RequestID:  req.RequestID,
			OnProgress: func(p UploadProgress) {
				p.SessionID = sess.ID
				run.bus.publish(p)
			},
		})
		run.summary = sum

		batches := run.bus.latest().Batches
		final = sum.progress(UploadComplete, sum.Batches, batches)
		final.SessionID = sess.ID
		if sum.Cancelled {
			final.Phase = UploadCancelled
			final.Error = ErrUploadCancelled.Error()
		}

		log.Info("upload finished",
			"phase", final.Phase,
			"total", sum.Total,
			"succeeded", sum.Succeeded,
			"failed", sum.Failed,
			"batches", sum.Batches,
			"duration_ms", sum.Duration.Milliseconds(),
		)
	}()

	return nil
}

// SubscribeUpload returns a channel of progress events for the session's
// latest upload run, closed after the terminal event.
func (s *Service) SubscribeUpload(sessionID string) (<-chan UploadProgress, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	run := sess.currentUpload()
	if run == nil {
		return nil, ErrNoUpload
	}
	return run.bus.subscribe(), nil
}

// UploadProgress returns the latest upload event without blocking.
func (s *Service) UploadProgress(sessionID string) (UploadProgress, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return UploadProgress{}, err
	}
	run := sess.currentUpload()
	if run == nil {
		return UploadProgress{}, ErrNoUpload
	}
	return run.bus.latest(), nil
}

// CancelUpload aborts the running upload. Outcomes already produced are
// kept; a finished run is left untouched.
func (s *Service) CancelUpload(sessionID string) error {
	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}
	run := sess.currentUpload()
	if run == nil {
		return ErrNoUpload
	}
	run.cancel()
	return nil
}

// UploadResult returns the summary of the latest run.
// Blocks until the run completes or ctx is done.
func (s *Service) UploadResult(ctx context.Context, sessionID string) (*UploadSummary, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	run := sess.currentUpload()
	if run == nil {
		return nil, ErrNoUpload
	}

	select {
	case <-run.done:
		sum := run.summary
		return &sum, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the live state of a session. Evicted sessions fall back
// to the progress cache when one is configured.
func (s *Service) Status(ctx context.Context, sessionID string) (StatusSnapshot, error) {
	if sess, err := s.session(sessionID); err == nil {
		return sess.snapshot(s.now()), nil
	}
	if s.cache == nil {
		return StatusSnapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	snap, err := s.cache.Load(ctx, sessionID)
	if errors.Is(err, ErrSnapshotNotFound) {
		return StatusSnapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return snap, err
}

// History returns the most recent journal entries, newest first. Without a
// history store it returns an empty list.
func (s *Service) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if s.history == nil {
		return []HistoryEntry{}, nil
	}
	entries, err := s.history.Recent(ctx, ClampHistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return entries, nil
}

// persist writes the journal entry and status snapshot of a finished run.
// Failures are logged; they never affect the run itself.
func (s *Service) persist(ctx context.Context, sess *Session, entry HistoryEntry) {
	log := logging.FromContext(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if s.history != nil {
		if err := s.history.Record(ctx, entry); err != nil {
			log.Warn("record history failed", "kind", entry.Kind, "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Save(ctx, sess.snapshot(s.now())); err != nil {
			log.Warn("save status snapshot failed", "error", err)
		}
	}
}
