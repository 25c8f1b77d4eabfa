package core

import (
	"context"
	"sync"
	"time"
)

// Session is one operator workspace: the file being reviewed and, at most,
// one upload run of its valid records.
type Session struct {
	ID        string
	CreatedAt time.Time

	controller *Controller
	startMu    sync.Mutex

	mu         sync.Mutex
	lastActive time.Time
	ingestBus  *broadcaster[IngestProgress] // nil until the first StartIngest
	ingestRun  uint64                       // controller generation feeding ingestBus
	upload     *uploadRun                   // nil until the first StartUpload
}

type uploadRun struct {
	cancel  context.CancelFunc
	done    chan struct{}
	bus     *broadcaster[UploadProgress]
	summary UploadSummary // readable once done is closed
}

func (r *uploadRun) running() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// SessionInfo is the public view of a session.
type SessionInfo struct {
	ID         string          `json:"session_id"`
	CreatedAt  time.Time       `json:"created_at"`
	LastActive time.Time       `json:"last_active"`
	Ingest     IngestProgress  `json:"ingest"`
	Upload     *UploadProgress `json:"upload,omitempty"`
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) currentIngestBus() *broadcaster[IngestProgress] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingestBus
}

// ingestBusFor returns the bus fed by controller generation run, or nil when
// a newer file already owns the session's bus.
func (s *Session) ingestBusFor(run uint64) *broadcaster[IngestProgress] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ingestBus == nil || s.ingestRun != run {
		return nil
	}
	return s.ingestBus
}

func (s *Session) currentUpload() *uploadRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload
}

// ingestProgress returns the latest ingestion event, or an idle one.
func (s *Session) ingestProgress() IngestProgress {
	if bus := s.currentIngestBus(); bus != nil {
		return bus.latest()
	}
	return IngestProgress{SessionID: s.ID, Phase: IngestIdle}
}

// busy reports whether work is still running in the session.
func (s *Session) busy() bool {
	if !s.ingestProgress().Phase.Terminal() && s.currentIngestBus() != nil {
		return true
	}
	if run := s.currentUpload(); run != nil && run.running() {
		return true
	}
	return false
}

func (s *Session) info() SessionInfo {
	s.mu.Lock()
	last := s.lastActive
	s.mu.Unlock()

	info := SessionInfo{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		LastActive: last,
		Ingest:     s.ingestProgress(),
	}
	if run := s.currentUpload(); run != nil {
		p := run.bus.latest()
		info.Upload = &p
	}
	return info
}

func (s *Session) snapshot(now time.Time) StatusSnapshot {
	info := s.info()
	return StatusSnapshot{
		SessionID: s.ID,
		Ingest:    info.Ingest,
		Upload:    info.Upload,
		UpdatedAt: now,
	}
}

// stop cancels any running ingestion and upload.
func (s *Session) stop() {
	s.controller.Cancel()
	if run := s.currentUpload(); run != nil {
		run.cancel()
	}
}
