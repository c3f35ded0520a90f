// Package worker runs periodic maintenance loops.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// ProxyPruner removes proxies whose success rate fell below a threshold.
type ProxyPruner interface {
	PruneFailing(threshold float64) []string
}

// Pruner periodically drops chronically failing proxies from the pool.
type Pruner struct {
	interval  time.Duration
	threshold float64
	target    ProxyPruner
}

// NewPruner creates a new Pruner worker.
func NewPruner(interval time.Duration, threshold float64, target ProxyPruner) *Pruner {
	return &Pruner{
		interval:  interval,
		threshold: threshold,
		target:    target,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.interval <= 0 {
		return // Pruning disabled
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *Pruner) prune() {
	removed := p.target.PruneFailing(p.threshold)
	if len(removed) > 0 {
		slog.Info("[Pruner] removed failing proxies", "count", len(removed), "threshold", p.threshold)
	}
}
