package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes sessions idle for longer than the timeout.
type Sweeper struct {
	store    Store
	idle     time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper returns a Sweeper over store.
func NewSweeper(store Store, idle, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, idle: idle, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("session sweeper started", "interval", s.interval, "idle_timeout", s.idle)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("session sweeper shutting down", "reason", ctx.Err())
			return
		}
	}
}

// Sweep runs one pass and returns the number of sessions deleted. A
// session deleted by someone else in the meantime is not an error.
func (s *Sweeper) Sweep(ctx context.Context) int {
	ids, err := s.store.Expired(ctx, s.now().Add(-s.idle))
	if err != nil {
		s.logger.Error("session sweeper failed to list expired sessions", "error", err)
		return 0
	}

	deleted := 0
	for _, id := range ids {
		if err := s.store.Delete(ctx, id); err != nil {
			s.logger.Warn("session sweeper failed to delete session", "session_id", id, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Debug("session sweeper removed idle sessions", "count", deleted)
	}
	return deleted
}
