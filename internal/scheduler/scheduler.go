// Package scheduler enqueues periodic discovery jobs for every active
// connection.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/config"
	"github.com/joshu-sajeev/sourcestage/internal/discovery"
	"github.com/joshu-sajeev/sourcestage/internal/dto"
	"github.com/joshu-sajeev/sourcestage/internal/models"
)

const requestedBy = "scheduler"

type ConnectionLister interface {
	ListActive(ctx context.Context) ([]models.Connection, error)
}

type Enqueuer interface {
	AddJob(ctx context.Context, req *dto.JobCreateDTO) (*dto.JobResponseDTO, error)
}

type Config struct {
	Interval time.Duration
	Overlap  time.Duration
	Limit    int
}

// Scheduler looks back Interval+Overlap on every run, so consecutive windows
// overlap and an item updated during a run is seen by the next one.
type Scheduler struct {
	conns  ConnectionLister
	jobs   Enqueuer
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

func New(conns ConnectionLister, jobs Enqueuer, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{conns: conns, jobs: jobs, cfg: cfg, now: time.Now, logger: logger}
}

// Run enqueues once immediately and then every Interval until ctx is done. A
// zero Interval disables scheduling.
func (s *Scheduler) Run(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		s.logger.Info("discovery scheduler disabled")
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if n, err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduled discovery incomplete", "enqueued", n, "error", err)
		} else {
			s.logger.Info("scheduled discovery enqueued", "enqueued", n)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Tick enqueues one discovery job per active connection of a known source
// type. It returns how many were enqueued; failures for single connections
// are joined into the error.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	conns, err := s.conns.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active connections: %w", err)
	}

	since := s.now().UTC().Add(-s.cfg.Interval - s.cfg.Overlap)
	known := discovery.SourceTypes()

	var (
		enqueued int
		errs     []error
	)
	for _, conn := range conns {
		if !slices.Contains(known, conn.IntegrationType) {
			continue
		}
		if conn.LibraryID == "" {
			s.logger.Warn("connection has no library, skipping", "connection_id", conn.ID, "source_type", conn.IntegrationType)
			continue
		}

		req, err := DiscoveryRequest(conn, since, s.cfg.Limit, requestedBy)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		_, err = s.jobs.AddJob(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("enqueue discovery for %s: %w", conn.ID, err))
			continue
		}
		enqueued++
	}
	return enqueued, errors.Join(errs...)
}

// DiscoveryRequest builds the enqueue request for one connection's discovery
// run.
func DiscoveryRequest(conn models.Connection, since time.Time, limit int, by string) (*dto.JobCreateDTO, error) {
	payload, err := json.Marshal(dto.DiscoverSourcesPayload{
		SourceType:   conn.IntegrationType,
		ConnectionID: conn.ID,
		TenantID:     conn.TenantID,
		LibraryID:    conn.LibraryID,
		Since:        since,
		Limit:        limit,
		RequestedBy:  by,
	})
	if err != nil {
		return nil, fmt.Errorf("encode discovery payload for %s: %w", conn.ID, err)
	}
	return &dto.JobCreateDTO{
		Queue:   config.QueueDiscovery,
		Type:    string(config.JobTypeDiscoverSources),
		Payload: payload,
	}, nil
}
