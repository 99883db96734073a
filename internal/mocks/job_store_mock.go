package mocks

import (
	"context"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/dto"
	"github.com/stretchr/testify/mock"
	"gorm.io/datatypes"
)

// JobStoreMock stands in for the worker side of the job repository.
type JobStoreMock struct {
	mock.Mock
}

func (m *JobStoreMock) AcquireNext(ctx context.Context, queue string, workerID string, lock time.Duration) (*dto.JobDTO, error) {
	args := m.Called(queue, workerID, lock)

	claimed, _ := args.Get(0).(*dto.JobDTO)
	return claimed, args.Error(1)
}

func (m *JobStoreMock) UpdateProgress(ctx context.Context, id uint, token string, progress int) error {
	args := m.Called(id, token, progress)
	return args.Error(0)
}

func (m *JobStoreMock) MarkCompleted(ctx context.Context, id uint, token string, result datatypes.JSON, retain time.Duration) error {
	args := m.Called(id, token, result, retain)
	return args.Error(0)
}

func (m *JobStoreMock) MarkFailed(ctx context.Context, id uint, token string, errMsg string, retain time.Duration) error {
	args := m.Called(id, token, errMsg, retain)
	return args.Error(0)
}

func (m *JobStoreMock) RetryLater(ctx context.Context, id uint, token string, availableAt time.Time, errMsg string) error {
	args := m.Called(id, token, availableAt, errMsg)
	return args.Error(0)
}
