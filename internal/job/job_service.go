package job

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/joshu-sajeev/sourcestage/common"
	"github.com/joshu-sajeev/sourcestage/internal/config"
	"github.com/joshu-sajeev/sourcestage/internal/dto"
	"github.com/joshu-sajeev/sourcestage/internal/models"
	"gorm.io/datatypes"
)

// Policy is the process-wide retry and retention default applied to jobs that
// do not override it.
type Policy struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	RetainCompleted time.Duration
	RetainFailed    time.Duration
}

// DefaultPolicy returns the built-in job policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     config.DefaultMaxAttempts,
		BackoffBase:     config.DefaultBackoffBase,
		RetainCompleted: config.DefaultRetainCompleted,
		RetainFailed:    config.DefaultRetainFailed,
	}
}

// PolicyFromConfig reads the job policy out of the worker configuration.
func PolicyFromConfig(cfg *config.WorkerConfig) Policy {
	return Policy{
		MaxAttempts:     cfg.MaxAttempts,
		BackoffBase:     cfg.BackoffBase,
		RetainCompleted: cfg.RetainCompleted,
		RetainFailed:    cfg.RetainFailed,
	}
}

type JobService struct {
	repo   JobRepoInterface
	policy Policy
}

func NewJobService(repo JobRepoInterface, policy Policy) *JobService {
	return &JobService{repo: repo, policy: policy}
}

var _ JobServiceInterface = (*JobService)(nil)

// AddJob validates the queue, the job type and its payload, applies the retry
// and retention policy, and persists the job. Validation failures come back as
// 400 APIErrors.
func (s *JobService) AddJob(ctx context.Context, req *dto.JobCreateDTO) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}

	if !json.Valid(req.Payload) {
		return nil, common.Errf(http.StatusBadRequest, "payload must be valid JSON")
	}

	allowedTypes, ok := config.QueueJobTypes[req.Queue]
	if !ok {
		return nil, common.NewAPIError(
			http.StatusBadRequest,
			"invalid queue",
			map[string]any{
				"provided": req.Queue,
				"allowed":  config.AllowedQueues,
			},
		)
	}

	jobType := config.JobType(req.Type)
	if !slices.Contains(allowedTypes, jobType) {
		return nil, common.NewAPIError(
			http.StatusBadRequest,
			"invalid job type for queue",
			map[string]any{
				"provided": req.Type,
				"allowed":  allowedTypes,
			},
		)
	}

	if err := validateJobPayload(jobType, req.Payload); err != nil {
		return nil, err
	}

	job := s.buildJob(req)

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, mapRepoError(err, "failed to add job to database")
	}

	resp := toResponse(job)
	return &resp, nil
}

func (s *JobService) buildJob(req *dto.JobCreateDTO) *models.Job {
	opts := req.Options

	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.policy.MaxAttempts
	}
	backoff := time.Duration(opts.BackoffMillis) * time.Millisecond
	if backoff == 0 {
		backoff = s.policy.BackoffBase
	}
	retainCompleted := time.Duration(opts.RetainCompletedSec) * time.Second
	if retainCompleted == 0 {
		retainCompleted = s.policy.RetainCompleted
	}
	retainFailed := time.Duration(opts.RetainFailedSec) * time.Second
	if retainFailed == 0 {
		retainFailed = s.policy.RetainFailed
	}

	job := &models.Job{
		Queue:           req.Queue,
		Type:            req.Type,
		Payload:         datatypes.JSON(req.Payload),
		MaxAttempts:     maxAttempts,
		BackoffMillis:   backoff.Milliseconds(),
		RetainCompleted: int64(retainCompleted / time.Second),
		RetainFailed:    int64(retainFailed / time.Second),
	}

	// Delayed jobs stay waiting until available_at passes.
	if opts.AvailableAt != nil {
		job.AvailableAt = opts.AvailableAt.UTC()
	}
	return job
}

// GetJobByID retrieves a job by its ID from the repository.
func (s *JobService) GetJobByID(ctx context.Context, id uint) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "failed to get job")
	}

	resp := toResponse(job)
	return &resp, nil
}

// ListJobs retrieves the jobs of one queue, newest first.
func (s *JobService) ListJobs(ctx context.Context, filter ListFilter) ([]dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	if !slices.Contains(config.AllowedQueues, filter.Queue) {
		return nil, common.NewAPIError(
			http.StatusBadRequest,
			"invalid queue",
			map[string]any{
				"provided": filter.Queue,
				"allowed":  config.AllowedQueues,
			},
		)
	}

	jobs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, mapRepoError(err, "failed to list jobs")
	}

	dtos := make([]dto.JobResponseDTO, len(jobs))
	for i := range jobs {
		dtos[i] = toResponse(&jobs[i])
	}
	return dtos, nil
}

// RemoveJob deletes a job that no worker has claimed yet.
func (s *JobService) RemoveJob(ctx context.Context, id uint) error {
	if err := ctx.Err(); err != nil {
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	if err := s.repo.Remove(ctx, id); err != nil {
		return mapRepoError(err, "failed to remove job")
	}
	return nil
}

func mapRepoError(err error, fallback string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	case errors.Is(err, ErrNotFound):
		return common.Errf(http.StatusNotFound, "job not found")
	case errors.Is(err, ErrNotRemovable):
		return common.Errf(http.StatusConflict, "job is already running or finished")
	default:
		return common.Wrap(http.StatusInternalServerError, err, fallback)
	}
}

func toResponse(job *models.Job) dto.JobResponseDTO {
	return dto.JobResponseDTO{
		ID:          job.ID,
		Queue:       job.Queue,
		Type:        job.Type,
		Payload:     json.RawMessage(job.Payload),
		Status:      job.Status,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Progress:    job.Progress,
		Result:      json.RawMessage(job.Result),
		Error:       job.Error,
		AvailableAt: job.AvailableAt,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}
