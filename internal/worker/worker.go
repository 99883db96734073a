// Package worker claims jobs of one queue and runs them through the typed
// handlers.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/dto"
	"github.com/joshu-sajeev/sourcestage/internal/job"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"
)

const (
	MinIdleDelay = time.Second
	MaxIdleDelay = 60 * time.Second
)

// JobStore is the part of the job repository a worker drives.
type JobStore interface {
	AcquireNext(ctx context.Context, queue string, workerID string, lock time.Duration) (*dto.JobDTO, error)
	UpdateProgress(ctx context.Context, id uint, token string, progress int) error
	MarkCompleted(ctx context.Context, id uint, token string, result datatypes.JSON, retain time.Duration) error
	MarkFailed(ctx context.Context, id uint, token string, errMsg string, retain time.Duration) error
	RetryLater(ctx context.Context, id uint, token string, availableAt time.Time, errMsg string) error
}

type Config struct {
	Queue        string
	LockDuration time.Duration
	Policy       job.Policy
	// Limiter gates job starts. Workers of one queue share it.
	Limiter *rate.Limiter
}

type Worker struct {
	ID       string
	repo     JobStore
	handlers Handlers
	cfg      Config
	logger   *slog.Logger

	now       func() time.Time
	minDelay  time.Duration
	maxDelay  time.Duration
	quit      chan struct{}
	closeOnce sync.Once
}

func NewWorker(id string, repo JobStore, handlers Handlers, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Worker{
		ID:       id,
		repo:     repo,
		handlers: handlers,
		cfg:      cfg,
		logger:   logger.With("worker_id", id, "queue", cfg.Queue),
		now:      time.Now,
		minDelay: MinIdleDelay,
		maxDelay: MaxIdleDelay,
		quit:     make(chan struct{}),
	}
}

// Start polls until ctx is cancelled or Stop is called. The idle delay doubles
// while the queue is empty and resets once a job was processed. wg is marked
// done when the loop has returned, after any in-flight job finished.
func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		delay := w.minDelay
		for {
			select {
			case <-w.quit:
				return
			case <-ctx.Done():
				return
			default:
			}

			if w.RunOnce(ctx) {
				delay = w.minDelay
				continue
			}

			select {
			case <-time.After(delay):
			case <-w.quit:
				return
			case <-ctx.Done():
				return
			}
			delay = min(delay*2, w.maxDelay)
		}
	}()
}

func (w *Worker) Stop() {
	w.closeOnce.Do(func() { close(w.quit) })
}

// RunOnce claims and processes at most one job. It reports whether a job was
// claimed.
func (w *Worker) RunOnce(ctx context.Context) bool {
	claimed, err := w.repo.AcquireNext(ctx, w.cfg.Queue, w.ID, w.cfg.LockDuration)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("acquire job failed", "error", err)
		}
		return false
	}
	if claimed == nil {
		return false
	}

	// a claimed job runs to completion even when shutdown begins
	w.process(context.WithoutCancel(ctx), claimed)
	return true
}

func (w *Worker) process(ctx context.Context, j *dto.JobDTO) {
	log := w.logger.With("job_id", j.ID, "type", j.Type, "attempt", j.Attempts)

	if err := w.cfg.Limiter.Wait(ctx); err != nil {
		log.Warn("rate limiter wait failed", "error", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.LockDuration)
	defer cancel()

	start := w.now()
	log.Info("job started")
	result, err := w.execute(runCtx, j)
	if err != nil {
		w.fail(ctx, log, j, err)
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		w.fail(ctx, log, j, Permanent(fmt.Errorf("encode result: %w", err)))
		return
	}

	retain := j.RetainCompleted
	if retain == 0 {
		retain = w.cfg.Policy.RetainCompleted
	}
	if err := w.repo.MarkCompleted(ctx, j.ID, j.LockToken, datatypes.JSON(raw), retain); err != nil {
		w.logFinishError(log, "mark completed", err)
		return
	}
	log.Info("job completed", "duration", w.now().Sub(start))
}

func (w *Worker) execute(ctx context.Context, j *dto.JobDTO) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	payload, err := dto.DecodePayload(j.Type, j.Payload)
	if err != nil {
		return nil, Permanent(err)
	}

	progress := func(percent int) {
		if err := w.repo.UpdateProgress(ctx, j.ID, j.LockToken, percent); err != nil {
			w.logger.Warn("update progress failed", "job_id", j.ID, "error", err)
		}
	}
	return w.handlers.Dispatch(ctx, payload, progress)
}

// fail retries the job with exponential backoff unless the error is permanent
// or the attempts are used up.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, j *dto.JobDTO, err error) {
	maxAttempts := j.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = w.cfg.Policy.MaxAttempts
	}

	if !IsPermanent(err) && j.Attempts < maxAttempts {
		next := w.now().Add(RetryDelay(w.backoff(j), j.Attempts))
		log.Warn("job attempt failed, retrying", "error", err, "retry_at", next)
		if rerr := w.repo.RetryLater(ctx, j.ID, j.LockToken, next, err.Error()); rerr != nil {
			w.logFinishError(log, "retry later", rerr)
		}
		return
	}

	retain := j.RetainFailed
	if retain == 0 {
		retain = w.cfg.Policy.RetainFailed
	}
	log.Error("job failed", "error", err, "permanent", IsPermanent(err))
	if ferr := w.repo.MarkFailed(ctx, j.ID, j.LockToken, err.Error(), retain); ferr != nil {
		w.logFinishError(log, "mark failed", ferr)
	}
}

func (w *Worker) backoff(j *dto.JobDTO) time.Duration {
	if j.Backoff > 0 {
		return j.Backoff
	}
	return w.cfg.Policy.BackoffBase
}

func (w *Worker) logFinishError(log *slog.Logger, op string, err error) {
	if errors.Is(err, job.ErrLeaseLost) {
		log.Warn("job lease lost before "+op, "error", err)
		return
	}
	log.Error(op+" failed", "error", err)
}

// MaxRetryDelay caps how far into the future a retry is scheduled.
const MaxRetryDelay = 24 * time.Hour

// RetryDelay is base × 2^(attempt-1), capped at MaxRetryDelay.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	if base >= MaxRetryDelay {
		return MaxRetryDelay
	}
	shift := attempt - 1
	if shift >= 63 || base > MaxRetryDelay>>shift {
		return MaxRetryDelay
	}
	return base << shift
}
