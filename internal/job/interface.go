package job

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/sourcestage/internal/dto"
	"github.com/joshu-sajeev/sourcestage/internal/models"
)

// ListFilter narrows a job listing to one queue.
type ListFilter struct {
	Queue  string
	Status string
	Limit  int
}

// JobRepoInterface defines the contract for the enqueue side of the job store.
type JobRepoInterface interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id uint) (*models.Job, error)
	List(ctx context.Context, filter ListFilter) ([]models.Job, error)
	Remove(ctx context.Context, id uint) error
}

// JobServiceInterface defines the contract for job business logic operations.
type JobServiceInterface interface {
	AddJob(ctx context.Context, req *dto.JobCreateDTO) (*dto.JobResponseDTO, error)
	GetJobByID(ctx context.Context, id uint) (*dto.JobResponseDTO, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]dto.JobResponseDTO, error)
	RemoveJob(ctx context.Context, id uint) error
}

// JobHandlerInterface defines the contract for HTTP request handlers.
type JobHandlerInterface interface {
	Create(c *gin.Context)
	Get(c *gin.Context)
	List(c *gin.Context)
	Remove(c *gin.Context)
}
