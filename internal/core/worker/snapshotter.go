package worker

import (
	"context"
	"log/slog"
	"time"
)

// Snapshotter periodically persists state through save.
type Snapshotter struct {
	interval time.Duration
	save     func(ctx context.Context) error
}

// NewSnapshotter creates a new Snapshotter worker.
func NewSnapshotter(interval time.Duration, save func(ctx context.Context) error) *Snapshotter {
	return &Snapshotter{interval: interval, save: save}
}

// Start runs the save loop. Failed saves are logged and retried on the next
// tick.
func (s *Snapshotter) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.save(ctx); err != nil {
				slog.Warn("[Snapshotter] save failed", "error", err)
			}
		}
	}
}
