package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joshu-sajeev/sourcestage/internal/config"
	"github.com/joshu-sajeev/sourcestage/internal/dto"
	"github.com/joshu-sajeev/sourcestage/internal/job"
	"github.com/joshu-sajeev/sourcestage/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const leaseExpiredMsg = "lease expired on final attempt"

type JobRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

var _ job.JobRepoInterface = (*JobRepository)(nil)

// Create inserts a new job record into the database. It uses the provided
// context for cancellation and timeout propagation. Returns an error if the
// database operation fails.
func (r *JobRepository) Create(ctx context.Context, j *models.Job) error {
	if j.Status == "" {
		j.Status = string(config.JobStatusWaiting)
	}
	if j.AvailableAt.IsZero() {
		j.AvailableAt = r.now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(j).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get retrieves a single job record by its ID. Returns job.ErrNotFound if the
// job doesn't exist.
func (r *JobRepository) Get(ctx context.Context, id uint) (*models.Job, error) {
	var found models.Job
	if err := r.db.WithContext(ctx).First(&found, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("get job %d: %w", id, job.ErrNotFound)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &found, nil
}

// List retrieves jobs of one queue, newest first, optionally narrowed by status.
func (r *JobRepository) List(ctx context.Context, filter job.ListFilter) ([]models.Job, error) {
	q := r.db.WithContext(ctx).Where("queue = ?", filter.Queue)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var jobs []models.Job
	if err := q.Order("id DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Remove deletes a job that has not started yet. Jobs already claimed by a
// worker cannot be removed.
func (r *JobRepository) Remove(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, config.JobStatusWaiting).
		Delete(&models.Job{})
	if res.Error != nil {
		return fmt.Errorf("remove job: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("remove job %d: %w", id, job.ErrNotRemovable)
}

// AcquireNext atomically claims the oldest due waiting job in queue. Concurrent
// workers skip rows another transaction already locked. Returns nil when the
// queue has nothing due.
func (r *JobRepository) AcquireNext(ctx context.Context, queue string, workerID string, lock time.Duration) (*dto.JobDTO, error) {
	now := r.now().UTC()
	var claimed *models.Job

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidate models.Job
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ? AND status = ? AND available_at <= ?", queue, config.JobStatusWaiting, now).
			Order("available_at ASC").
			Order("id ASC").
			Limit(1).
			Take(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		token := workerID + "/" + uuid.NewString()
		lockedUntil := now.Add(lock)
		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", candidate.ID, config.JobStatusWaiting).
			Updates(map[string]any{
				"status":       config.JobStatusActive,
				"attempts":     gorm.Expr("attempts + ?", 1),
				"locked_by":    token,
				"locked_until": lockedUntil,
				"started_at":   now,
				"progress":     0,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		candidate.Status = string(config.JobStatusActive)
		candidate.Attempts++
		candidate.LockedBy = token
		candidate.LockedUntil = &lockedUntil
		claimed = &candidate
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("acquire job: %w", err)
	}
	if claimed == nil {
		return nil, nil
	}

	return &dto.JobDTO{
		ID:              claimed.ID,
		Queue:           claimed.Queue,
		Type:            claimed.Type,
		Payload:         json.RawMessage(claimed.Payload),
		Attempts:        claimed.Attempts,
		MaxAttempts:     claimed.MaxAttempts,
		Backoff:         claimed.Backoff(),
		RetainCompleted: time.Duration(claimed.RetainCompleted) * time.Second,
		RetainFailed:    time.Duration(claimed.RetainFailed) * time.Second,
		LockToken:       claimed.LockedBy,
	}, nil
}

// UpdateProgress records handler progress, clamped to 0..100.
func (r *JobRepository) UpdateProgress(ctx context.Context, id uint, token string, progress int) error {
	progress = max(0, min(progress, 100))
	return r.updateLeased(ctx, "update progress", id, token, map[string]any{
		"progress": progress,
	})
}

// MarkCompleted stores the result and starts the completed-retention clock.
func (r *JobRepository) MarkCompleted(ctx context.Context, id uint, token string, result datatypes.JSON, retain time.Duration) error {
	now := r.now().UTC()
	retainUntil := now.Add(retain)
	return r.updateLeased(ctx, "mark completed", id, token, map[string]any{
		"status":       config.JobStatusCompleted,
		"progress":     100,
		"result":       result,
		"error":        "",
		"finished_at":  now,
		"retain_until": retainUntil,
		"locked_by":    "",
		"locked_until": nil,
	})
}

// MarkFailed moves the job to its terminal failed state.
func (r *JobRepository) MarkFailed(ctx context.Context, id uint, token string, errMsg string, retain time.Duration) error {
	now := r.now().UTC()
	retainUntil := now.Add(retain)
	return r.updateLeased(ctx, "mark failed", id, token, map[string]any{
		"status":       config.JobStatusFailed,
		"error":        errMsg,
		"finished_at":  now,
		"retain_until": retainUntil,
		"locked_by":    "",
		"locked_until": nil,
	})
}

// RetryLater puts a failed attempt back in the queue, due at availableAt.
func (r *JobRepository) RetryLater(ctx context.Context, id uint, token string, availableAt time.Time, errMsg string) error {
	return r.updateLeased(ctx, "retry later", id, token, map[string]any{
		"status":       config.JobStatusWaiting,
		"available_at": availableAt.UTC(),
		"error":        errMsg,
		"locked_by":    "",
		"locked_until": nil,
	})
}

func (r *JobRepository) updateLeased(ctx context.Context, op string, id uint, token string, values map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, config.JobStatusActive, token).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s job %d: %w", op, id, job.ErrLeaseLost)
	}
	return nil
}

// ListStuckJobs returns active jobs whose lease expired, usually because the
// worker process died mid-handler.
func (r *JobRepository) ListStuckJobs(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	if err := r.db.WithContext(ctx).
		Where("status = ? AND locked_until < ?", config.JobStatusActive, r.now().UTC()).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	return jobs, nil
}

// Release recovers a stuck job. It is requeued when attempts remain and failed
// otherwise. The returned bool reports whether it was requeued.
func (r *JobRepository) Release(ctx context.Context, id uint) (bool, error) {
	now := r.now().UTC()

	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ? AND locked_until < ? AND attempts < max_attempts", id, config.JobStatusActive, now).
		Updates(map[string]any{
			"status":       config.JobStatusWaiting,
			"available_at": now,
			"locked_by":    "",
			"locked_until": nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("release job: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var stuck models.Job
	if err := r.db.WithContext(ctx).First(&stuck, "id = ?", id).Error; err != nil {
		return false, fmt.Errorf("release job: %w", err)
	}
	retain := time.Duration(stuck.RetainFailed) * time.Second
	if retain == 0 {
		retain = config.DefaultRetainFailed
	}

	res = r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ? AND locked_until < ?", id, config.JobStatusActive, now).
		Updates(map[string]any{
			"status":       config.JobStatusFailed,
			"error":        leaseExpiredMsg,
			"finished_at":  now,
			"retain_until": now.Add(retain),
			"locked_by":    "",
			"locked_until": nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("fail stuck job: %w", res.Error)
	}
	return false, nil
}

// PruneExpired deletes terminal jobs whose retention window has passed.
func (r *JobRepository) PruneExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND retain_until < ?",
			[]config.JobStatus{config.JobStatusCompleted, config.JobStatusFailed}, r.now().UTC()).
		Delete(&models.Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune expired jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PruneCompletedOverflow keeps only the newest keep completed jobs of queue.
// keep <= 0 disables count based pruning.
func (r *JobRepository) PruneCompletedOverflow(ctx context.Context, queue string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	newest := r.db.Model(&models.Job{}).
		Select("id").
		Where("queue = ? AND status = ?", queue, config.JobStatusCompleted).
		Order("finished_at DESC").
		Order("id DESC").
		Limit(keep)

	res := r.db.WithContext(ctx).
		Where("queue = ? AND status = ? AND id NOT IN (?)", queue, config.JobStatusCompleted, newest).
		Delete(&models.Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune completed jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
