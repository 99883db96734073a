// Package pool runs the workers of each queue together with a janitor that
// recovers expired leases and prunes finished jobs.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/config"
	"github.com/joshu-sajeev/sourcestage/internal/job"
	"github.com/joshu-sajeev/sourcestage/internal/models"
	"github.com/joshu-sajeev/sourcestage/internal/worker"
	"golang.org/x/time/rate"
)

const DefaultJanitorInterval = 30 * time.Second

// Store is everything a pool needs from the job repository.
type Store interface {
	worker.JobStore
	ListStuckJobs(ctx context.Context) ([]models.Job, error)
	Release(ctx context.Context, id uint) (bool, error)
	PruneExpired(ctx context.Context) (int64, error)
	PruneCompletedOverflow(ctx context.Context, queue string, keep int) (int64, error)
}

type Config struct {
	Queue           string
	Concurrency     int
	RateMax         int
	RateDuration    time.Duration
	LockDuration    time.Duration
	KeepCompleted   int
	JanitorInterval time.Duration
	Policy          job.Policy
}

// WorkerPool runs Concurrency workers against one queue. Job starts of all its
// workers share one limiter of RateMax per RateDuration.
type WorkerPool struct {
	cfg     Config
	store   Store
	workers []*worker.Worker
	logger  *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewWorkerPool(store Store, handlers worker.Handlers, cfg Config, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = config.DefaultQueueConcurrency
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = DefaultJanitorInterval
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateMax > 0 && cfg.RateDuration > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RateDuration/time.Duration(cfg.RateMax)), cfg.RateMax)
	}

	p := &WorkerPool{cfg: cfg, store: store, logger: logger.With("queue", cfg.Queue)}
	host, _ := os.Hostname()
	for i := 1; i <= cfg.Concurrency; i++ {
		id := fmt.Sprintf("%s-%d-%s-%d", host, os.Getpid(), cfg.Queue, i)
		p.workers = append(p.workers, worker.NewWorker(id, store, handlers, worker.Config{
			Queue:        cfg.Queue,
			LockDuration: cfg.LockDuration,
			Policy:       cfg.Policy,
			Limiter:      limiter,
		}, logger))
	}
	return p
}

func (p *WorkerPool) Start(ctx context.Context) {
	for _, w := range p.workers {
		w.Start(ctx, &p.wg)
	}

	janitorCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.janitor(janitorCtx)

	p.logger.Info("worker pool started", "concurrency", len(p.workers))
}

func (p *WorkerPool) janitor(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep recovers jobs whose lease expired and prunes jobs past retention.
func (p *WorkerPool) Sweep(ctx context.Context) {
	stuck, err := p.store.ListStuckJobs(ctx)
	if err != nil {
		p.logger.Error("list stuck jobs failed", "error", err)
	}
	for _, j := range stuck {
		if j.Queue != p.cfg.Queue {
			continue
		}
		requeued, err := p.store.Release(ctx, j.ID)
		if err != nil {
			p.logger.Error("release stuck job failed", "job_id", j.ID, "error", err)
			continue
		}
		p.logger.Warn("recovered stuck job", "job_id", j.ID, "locked_by", j.LockedBy, "requeued", requeued)
	}

	if n, err := p.store.PruneExpired(ctx); err != nil {
		p.logger.Error("prune expired jobs failed", "error", err)
	} else if n > 0 {
		p.logger.Info("pruned expired jobs", "count", n)
	}

	if n, err := p.store.PruneCompletedOverflow(ctx, p.cfg.Queue, p.cfg.KeepCompleted); err != nil {
		p.logger.Error("prune completed jobs failed", "error", err)
	} else if n > 0 {
		p.logger.Info("pruned completed jobs over limit", "count", n, "keep", p.cfg.KeepCompleted)
	}
}

// Stop stops polling and waits for in-flight jobs until ctx is done.
func (p *WorkerPool) Stop(ctx context.Context) error {
	for _, w := range p.workers {
		w.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s pool: %w", p.cfg.Queue, ctx.Err())
	}
}
