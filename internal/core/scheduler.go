package core

// scheduler.go provides background maintenance for the session table.
//
// Sessions hold whole files worth of records in memory, so idle ones are
// evicted after SessionTTL. A session that is still parsing or uploading is
// never evicted, however long it has been running.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often idle sessions are looked for.
const DefaultSweepInterval = 5 * time.Minute

// StartSessionJanitor evicts idle sessions every interval until ctx is
// cancelled. It blocks; run it on its own goroutine.
func (s *Service) StartSessionJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	slog.Info("session janitor started",
		"interval", interval.String(),
		"ttl", s.cfg.SessionTTL.String(),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session janitor stopped")
			return
		case <-ticker.C:
			if n := s.SweepSessions(); n > 0 {
				slog.Info("evicted idle sessions", "count", n, "remaining", s.SessionCount())
			}
		}
	}
}

// SweepSessions evicts sessions idle for longer than SessionTTL and returns
// how many were removed.
func (s *Service) SweepSessions() int {
	cutoff := s.now().Add(-s.cfg.SessionTTL)

	s.mu.RLock()
	var stale []*Session
	for _, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.lastActive.Before(cutoff)
		sess.mu.Unlock()
		if idle && !sess.busy() {
			stale = append(stale, sess)
		}
	}
	s.mu.RUnlock()

	if len(stale) == 0 {
		return 0
	}

	s.mu.Lock()
	for _, sess := range stale {
		delete(s.sessions, sess.ID)
	}
	s.mu.Unlock()

	for _, sess := range stale {
		sess.stop()
	}
	return len(stale)
}
