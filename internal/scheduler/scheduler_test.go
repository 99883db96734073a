package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/config"
	"github.com/joshu-sajeev/sourcestage/internal/dto"
	"github.com/joshu-sajeev/sourcestage/internal/models"
	"github.com/joshu-sajeev/sourcestage/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeLister []models.Connection

func (f fakeLister) ListActive(context.Context) ([]models.Connection, error) {
	return f, nil
}

func TestScheduler_Tick(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	conns := fakeLister{
		{ID: "c1", IntegrationType: "zendesk", TenantID: "t1", LibraryID: "lib-1"},
		{ID: "c2", IntegrationType: "slack", LibraryID: "lib-2"},
		{ID: "c3", IntegrationType: "jira", LibraryID: "lib-3"},
		{ID: "c4", IntegrationType: "confluence"},
	}

	svc := new(mocks.JobServiceMock)
	var payloads []dto.DiscoverSourcesPayload
	svc.On("AddJob", mock.Anything, mock.MatchedBy(func(req *dto.JobCreateDTO) bool {
		return req.Queue == config.QueueDiscovery && req.Type == string(config.JobTypeDiscoverSources)
	})).Run(func(args mock.Arguments) {
		var p dto.DiscoverSourcesPayload
		require.NoError(t, json.Unmarshal(args.Get(1).(*dto.JobCreateDTO).Payload, &p))
		payloads = append(payloads, p)
	}).Return(&dto.JobResponseDTO{ID: 1}, nil)

	s := New(conns, svc, Config{Interval: time.Hour, Overlap: 10 * time.Minute, Limit: 100},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return now }

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, payloads, 2)
	assert.Equal(t, "c1", payloads[0].ConnectionID)
	assert.Equal(t, "t1", payloads[0].TenantID)
	assert.True(t, payloads[0].Since.Equal(now.Add(-70*time.Minute)))
	assert.Equal(t, "scheduler", payloads[0].RequestedBy)
	assert.Equal(t, "slack", payloads[1].SourceType)
	svc.AssertNumberOfCalls(t, "AddJob", 2)
}

func TestScheduler_Tick_EnqueueFailureContinues(t *testing.T) {
	conns := fakeLister{
		{ID: "c1", IntegrationType: "zendesk", LibraryID: "lib-1"},
		{ID: "c2", IntegrationType: "zendesk", LibraryID: "lib-1"},
	}
	svc := new(mocks.JobServiceMock)
	svc.On("AddJob", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()
	svc.On("AddJob", mock.Anything, mock.Anything).Return(&dto.JobResponseDTO{ID: 2}, nil).Once()

	s := New(conns, svc, Config{Interval: time.Hour}, nil)
	n, err := s.Tick(context.Background())
	assert.Equal(t, 1, n)
	assert.ErrorContains(t, err, "enqueue discovery for c1")
}

func TestScheduler_Run_Disabled(t *testing.T) {
	s := New(fakeLister{}, new(mocks.JobServiceMock), Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled scheduler did not return")
	}
}

func TestScheduler_Run_StopsOnCancel(t *testing.T) {
	svc := new(mocks.JobServiceMock)
	s := New(fakeLister{}, svc, Config{Interval: time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler ignored cancellation")
	}
}
