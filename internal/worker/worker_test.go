package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/config"
	"github.com/joshu-sajeev/sourcestage/internal/dto"
	"github.com/joshu-sajeev/sourcestage/internal/job"
	"github.com/joshu-sajeev/sourcestage/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var testNow = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func analyticsJob(attempts int) *dto.JobDTO {
	return &dto.JobDTO{
		ID:          7,
		Queue:       config.QueueAnalytics,
		Type:        string(config.JobTypeAggregateMetrics),
		Payload:     json.RawMessage(`{"library_id":"lib-1"}`),
		Attempts:    attempts,
		MaxAttempts: 3,
		Backoff:     5 * time.Second,
		LockToken:   "w1/token",
	}
}

func newTestWorker(store *mocks.JobStoreMock, analytics Handler[dto.AggregateAnalyticsPayload]) *Worker {
	w := NewWorker("w1", store, Handlers{Analytics: analytics}, Config{
		Queue:        config.QueueAnalytics,
		LockDuration: time.Minute,
		Policy:       job.DefaultPolicy(),
	}, discardLogger())
	w.now = func() time.Time { return testNow }
	return w
}

func TestWorker_RunOnce(t *testing.T) {
	errBoom := errors.New("upstream unavailable")

	tests := []struct {
		name    string
		claimed *dto.JobDTO
		handler Handler[dto.AggregateAnalyticsPayload]
		expect  func(store *mocks.JobStoreMock)
	}{
		{
			name:    "success completes with default retention",
			claimed: analyticsJob(1),
			handler: func(ctx context.Context, p dto.AggregateAnalyticsPayload, progress Progress) (any, error) {
				progress(100)
				return map[string]string{"library_id": p.LibraryID}, nil
			},
			expect: func(store *mocks.JobStoreMock) {
				store.On("UpdateProgress", uint(7), "w1/token", 100).Return(nil).Once()
				store.On("MarkCompleted", uint(7), "w1/token", datatypes.JSON(`{"library_id":"lib-1"}`), config.DefaultRetainCompleted).
					Return(nil).Once()
			},
		},
		{
			name:    "failure with attempts left is retried with backoff",
			claimed: analyticsJob(2),
			handler: func(context.Context, dto.AggregateAnalyticsPayload, Progress) (any, error) {
				return nil, errBoom
			},
			expect: func(store *mocks.JobStoreMock) {
				store.On("RetryLater", uint(7), "w1/token", testNow.Add(10*time.Second), "upstream unavailable").
					Return(nil).Once()
			},
		},
		{
			name:    "last attempt fails the job",
			claimed: analyticsJob(3),
			handler: func(context.Context, dto.AggregateAnalyticsPayload, Progress) (any, error) {
				return nil, errBoom
			},
			expect: func(store *mocks.JobStoreMock) {
				store.On("MarkFailed", uint(7), "w1/token", "upstream unavailable", config.DefaultRetainFailed).
					Return(nil).Once()
			},
		},
		{
			name:    "permanent error skips remaining attempts",
			claimed: analyticsJob(1),
			handler: func(context.Context, dto.AggregateAnalyticsPayload, Progress) (any, error) {
				return nil, Permanent(errBoom)
			},
			expect: func(store *mocks.JobStoreMock) {
				store.On("MarkFailed", uint(7), "w1/token", "upstream unavailable", config.DefaultRetainFailed).
					Return(nil).Once()
			},
		},
		{
			name: "undecodable payload fails permanently",
			claimed: func() *dto.JobDTO {
				j := analyticsJob(1)
				j.Type = "send_email"
				return j
			}(),
			expect: func(store *mocks.JobStoreMock) {
				store.On("MarkFailed", uint(7), "w1/token", mock.AnythingOfType("string"), config.DefaultRetainFailed).
					Return(nil).Once()
			},
		},
		{
			name:    "handler panic is retried",
			claimed: analyticsJob(1),
			handler: func(context.Context, dto.AggregateAnalyticsPayload, Progress) (any, error) {
				panic("nil map")
			},
			expect: func(store *mocks.JobStoreMock) {
				store.On("RetryLater", uint(7), "w1/token", testNow.Add(5*time.Second), "handler panic: nil map").
					Return(nil).Once()
			},
		},
		{
			name:    "lost lease is logged, not retried",
			claimed: analyticsJob(1),
			handler: func(context.Context, dto.AggregateAnalyticsPayload, Progress) (any, error) {
				return "ok", nil
			},
			expect: func(store *mocks.JobStoreMock) {
				store.On("MarkCompleted", uint(7), "w1/token", datatypes.JSON(`"ok"`), config.DefaultRetainCompleted).
					Return(job.ErrLeaseLost).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mocks.JobStoreMock)
			store.On("AcquireNext", config.QueueAnalytics, "w1", time.Minute).Return(tt.claimed, nil).Once()
			tt.expect(store)

			w := newTestWorker(store, tt.handler)
			assert.True(t, w.RunOnce(context.Background()))
			store.AssertExpectations(t)
		})
	}
}

func TestWorker_RunOnce_EmptyQueue(t *testing.T) {
	store := new(mocks.JobStoreMock)
	store.On("AcquireNext", config.QueueAnalytics, "w1", time.Minute).Return(nil, nil).Once()

	w := newTestWorker(store, nil)
	assert.False(t, w.RunOnce(context.Background()))

	store.On("AcquireNext", config.QueueAnalytics, "w1", time.Minute).Return(nil, errors.New("db down")).Once()
	assert.False(t, w.RunOnce(context.Background()))
	store.AssertExpectations(t)
}

func TestWorker_JobOverridesPolicy(t *testing.T) {
	claimed := analyticsJob(1)
	claimed.RetainCompleted = time.Hour

	store := new(mocks.JobStoreMock)
	store.On("AcquireNext", config.QueueAnalytics, "w1", time.Minute).Return(claimed, nil).Once()
	store.On("MarkCompleted", uint(7), "w1/token", mock.Anything, time.Hour).Return(nil).Once()

	w := newTestWorker(store, func(context.Context, dto.AggregateAnalyticsPayload, Progress) (any, error) {
		return nil, nil
	})
	w.RunOnce(context.Background())
	store.AssertExpectations(t)
}

func TestWorker_StartStop(t *testing.T) {
	store := new(mocks.JobStoreMock)
	store.On("AcquireNext", config.QueueAnalytics, "w1", time.Minute).Return(analyticsJob(1), nil).Twice()
	store.On("AcquireNext", config.QueueAnalytics, "w1", time.Minute).Return(nil, nil)
	store.On("MarkCompleted", uint(7), "w1/token", mock.Anything, mock.Anything).Return(nil)

	var mu sync.Mutex
	handled := 0
	w := newTestWorker(store, func(context.Context, dto.AggregateAnalyticsPayload, Progress) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		handled++
		return nil, nil
	})
	w.minDelay = time.Millisecond
	w.maxDelay = 4 * time.Millisecond

	var wg sync.WaitGroup
	w.Start(context.Background(), &wg)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled == 2
	}, time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()
	wg.Wait()
}

func TestWorker_InFlightJobSurvivesShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	store := new(mocks.JobStoreMock)
	store.On("AcquireNext", config.QueueAnalytics, "w1", time.Minute).Return(analyticsJob(1), nil).Once()
	store.On("MarkCompleted", uint(7), "w1/token", datatypes.JSON(`"done"`), mock.Anything).Return(nil).Once()

	w := newTestWorker(store, func(ctx context.Context, _ dto.AggregateAnalyticsPayload, _ Progress) (any, error) {
		cancel()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
			return "done", nil
		}
	})

	assert.True(t, w.RunOnce(ctx))
	store.AssertExpectations(t)
}

func TestRetryDelay(t *testing.T) {
	base := 5 * time.Second
	assert.Equal(t, 5*time.Second, RetryDelay(base, 1))
	assert.Equal(t, 10*time.Second, RetryDelay(base, 2))
	assert.Equal(t, 20*time.Second, RetryDelay(base, 3))
	assert.Equal(t, 5*time.Second, RetryDelay(base, 0))

	assert.Equal(t, MaxRetryDelay, RetryDelay(base, 40))
	assert.Equal(t, MaxRetryDelay, RetryDelay(base, 64))
	assert.Equal(t, MaxRetryDelay, RetryDelay(base, 1000))
	assert.Equal(t, MaxRetryDelay, RetryDelay(48*time.Hour, 1))

	prev := time.Duration(0)
	for attempt := 1; attempt <= 100; attempt++ {
		d := RetryDelay(base, attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}
