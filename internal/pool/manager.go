package pool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joshu-sajeev/sourcestage/internal/config"
	"github.com/joshu-sajeev/sourcestage/internal/job"
	"github.com/joshu-sajeev/sourcestage/internal/worker"
	"golang.org/x/sync/errgroup"
)

// Manager owns one pool per configured queue.
type Manager struct {
	pools []*WorkerPool
}

func NewManager(store Store, handlers worker.Handlers, cfg *config.WorkerConfig, logger *slog.Logger) (*Manager, error) {
	if err := handlers.Validate(); err != nil {
		return nil, fmt.Errorf("invalid handlers: %w", err)
	}

	m := &Manager{}
	for _, q := range cfg.Queues {
		m.pools = append(m.pools, NewWorkerPool(store, handlers, Config{
			Queue:           q,
			Concurrency:     cfg.Concurrency,
			RateMax:         cfg.RateMax,
			RateDuration:    cfg.RateDuration,
			LockDuration:    cfg.LockDuration,
			KeepCompleted:   cfg.KeepCompleted,
			JanitorInterval: cfg.JanitorInterval,
			Policy:          job.PolicyFromConfig(cfg),
		}, logger))
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) {
	for _, p := range m.pools {
		p.Start(ctx)
	}
}

// Stop stops every pool, draining them concurrently, and returns the first
// pool that missed the ctx deadline.
func (m *Manager) Stop(ctx context.Context) error {
	var g errgroup.Group
	for _, p := range m.pools {
		g.Go(func() error { return p.Stop(ctx) })
	}
	return g.Wait()
}
