package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/writer/internal/core/config"
	"github.com/vietddude/writer/internal/metrics"
)

// InstancePruner deletes finished durable instances.
type InstancePruner interface {
	PruneTerminal(ctx context.Context, before time.Time) (int, error)
}

// Pruner deletes old data based on retention policy.
type Pruner struct {
	cfg   config.RetentionConfig
	store InstancePruner
	now   func() time.Time
}

// NewPruner creates a new Pruner worker.
func NewPruner(cfg config.RetentionConfig, store InstancePruner) *Pruner {
	return &Pruner{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.cfg.Period <= 0 {
		return // Retention disabled
	}

	interval := p.cfg.Interval
	if interval <= 0 {
		// 10% of retention period, between 1 minute and 1 hour
		interval = min(p.cfg.Period/10, 1*time.Hour)
		interval = max(interval, 1*time.Minute)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) int {
	threshold := p.now().Add(-p.cfg.Period)

	n, err := p.store.PruneTerminal(ctx, threshold)
	if err != nil {
		slog.Error("[Pruner] failed to prune instances", "before", threshold, "error", err)
		return 0
	}
	if n > 0 {
		metrics.InstancesPruned.Add(float64(n))
		slog.Info("[Pruner] pruned finished instances", "count", n, "before", threshold)
	}
	return n
}
