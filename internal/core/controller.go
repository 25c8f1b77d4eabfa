package core

// controller.go drives parse -> validate -> partition for one session.
//
// State machine: idle -> parsing -> complete | failed | cancelled.
// Only one ingestion is live per controller. Calling Ingest while another is
// parsing cancels the older one; the older call returns ErrSuperseded and
// never writes to the controller's state, so the last file always wins.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Default retention caps.
const (
	DefaultPreviewCap = 1_000_000
	DefaultErrorCap   = 5_000
)

// ControllerConfig bounds how much of a file is kept in memory.
type ControllerConfig struct {
	PreviewCap int // valid records retained
	ErrorCap   int // validation failures retained
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.PreviewCap <= 0 {
		c.PreviewCap = DefaultPreviewCap
	}
	if c.ErrorCap <= 0 {
		c.ErrorCap = DefaultErrorCap
	}
	return c
}

// Controller owns the IngestionResult of one session.
type Controller struct {
	cfg       ControllerConfig
	validator *Validator

	// onProgress is called with the controller lock held; it must not block
	// or call back into the controller. run is the generation returned by
	// Start for the ingestion the event belongs to.
	onProgress func(run uint64, p IngestProgress)

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	progress IngestProgress
	result   *IngestionResult
	err      error
}

// NewController creates an idle controller. onProgress may be nil.
func NewController(cfg ControllerConfig, v *Validator, onProgress func(run uint64, p IngestProgress)) *Controller {
	if v == nil {
		v = NewValidator(nil)
	}
	return &Controller{
		cfg:        cfg.withDefaults(),
		validator:  v,
		onProgress: onProgress,
		progress:   IngestProgress{Phase: IngestIdle},
	}
}

// Ingest parses and validates src, replacing any previous result.
//
// It blocks until the file is fully read; callers that must stay responsive
// run it on their own goroutine. Row-level validation failures never abort
// the run. A *ParseError, an unsupported file, or cancellation does, and no
// partial result is published in that case.
func (c *Controller) Ingest(ctx context.Context, src SourceFile) (*IngestionResult, error) {
	_, run := c.Start(ctx, src)
	return run()
}

// Start claims the controller for src and returns the run generation and
// the function that runs the ingestion. Claiming is synchronous: once Start
// returns, older runs are superseded and Phase reports parsing. Every event
// of this ingestion is delivered with the returned generation. The returned
// function must be called exactly once.
func (c *Controller) Start(ctx context.Context, src SourceFile) (uint64, func() (*IngestionResult, error)) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.result = nil
	c.err = nil
	c.progress = IngestProgress{FileName: src.Name, Phase: IngestParsing}
	c.emitLocked()
	c.mu.Unlock()

	return gen, func() (*IngestionResult, error) {
		defer cancel()
		return c.run(ctx, gen, src)
	}
}

func (c *Controller) run(ctx context.Context, gen uint64, src SourceFile) (*IngestionResult, error) {
	start := time.Now()
	res := &IngestionResult{FileName: src.Name}

	parser, err := NewParser(src, ParserOptions{
		OnProgress: func(pct int) {
			if pct < 100 {
				c.update(gen, pct, res)
			}
		},
	})
	if err != nil {
		return nil, c.finish(gen, nil, err)
	}

	for row, err := range parser.Rows(ctx) {
		if err != nil {
			return nil, c.finish(gen, nil, err)
		}

		res.TotalRowsSeen++
		inv, failure := c.validator.Validate(row, parser.Line())
		if failure == nil {
			res.ValidCount++
			if len(res.Valid) < c.cfg.PreviewCap {
				res.Valid = append(res.Valid, inv)
			}
			continue
		}

		res.FailedCount++
		if len(res.Failures) < c.cfg.ErrorCap {
			res.Failures = append(res.Failures, *failure)
		}
	}

	res.Columns = parser.Columns()
	res.Duration = time.Since(start)
	return res, c.finish(gen, res, nil)
}

// update publishes an intermediate progress event if gen is still current.
func (c *Controller) update(gen uint64, pct int, res *IngestionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.progress.Percent = pct
	c.progress.RowsSeen = res.TotalRowsSeen
	c.progress.Valid = res.ValidCount
	c.progress.Failed = res.FailedCount
	c.emitLocked()
}

// finish moves run gen to its terminal phase and returns the error the
// caller of Ingest sees.
func (c *Controller) finish(gen uint64, res *IngestionResult, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return ErrSuperseded
	}
	c.cancel = nil

	switch {
	case err == nil:
		c.result = res
		c.progress.Phase = IngestComplete
		c.progress.Percent = 100
		c.progress.RowsSeen = res.TotalRowsSeen
		c.progress.Valid = res.ValidCount
		c.progress.Failed = res.FailedCount
	case errors.Is(err, ErrIngestCancelled):
		c.err = err
		c.progress.Phase = IngestCancelled
		c.progress.Error = err.Error()
	default:
		c.err = err
		c.progress.Phase = IngestFailed
		c.progress.Error = err.Error()
	}
	c.emitLocked()
	return err
}

func (c *Controller) emitLocked() {
	if c.onProgress != nil {
		c.onProgress(c.gen, c.progress)
	}
}

// Cancel stops the ingestion in flight, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Phase returns the current state.
func (c *Controller) Phase() IngestPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress.Phase
}

// Progress returns a snapshot of the latest progress event.
func (c *Controller) Progress() IngestProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Result returns the published result. It fails while parsing, after a
// failed or cancelled run, and before any file was ingested.
func (c *Controller) Result() (*IngestionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.progress.Phase {
	case IngestComplete:
		return c.result, nil
	case IngestParsing:
		return nil, ErrIngestInProgress
	case IngestIdle:
		return nil, ErrNoIngestion
	default:
		return nil, errors.Join(ErrIngestFailed, c.err)
	}
}
