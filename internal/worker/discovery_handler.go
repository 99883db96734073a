package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joshu-sajeev/sourcestage/internal/config"
	"github.com/joshu-sajeev/sourcestage/internal/discovery"
	"github.com/joshu-sajeev/sourcestage/internal/dto"
	"github.com/joshu-sajeev/sourcestage/internal/models"
	"github.com/joshu-sajeev/sourcestage/internal/staging"
)

const defaultStagedBy = "discovery"

type ConnectionLookup interface {
	GetByID(ctx context.Context, id string) (*models.Connection, error)
}

type SourceStager interface {
	StageSources(ctx context.Context, inputs []staging.Input) (staging.Result, error)
}

type AdapterRegistry interface {
	Get(sourceType string) (discovery.Adapter, error)
}

type DiscoveryResult struct {
	SourceType   string `json:"source_type"`
	ConnectionID string `json:"connection_id,omitempty"`
	Discovered   int    `json:"discovered"`
	Staged       int    `json:"staged"`
	Updated      int    `json:"updated"`
}

type DiscoveryHandler struct {
	connections ConnectionLookup
	adapters    AdapterRegistry
	stager      SourceStager
	logger      *slog.Logger
}

func NewDiscoveryHandler(connections ConnectionLookup, adapters AdapterRegistry, stager SourceStager, logger *slog.Logger) *DiscoveryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoveryHandler{connections: connections, adapters: adapters, stager: stager, logger: logger}
}

// Handle discovers the items of one connection and stages each of them. A
// named connection must exist, be active, belong to the requested source type
// and be owned by the payload's tenant; otherwise the job fails without
// calling the adapter.
func (h *DiscoveryHandler) Handle(ctx context.Context, p dto.DiscoverSourcesPayload, progress Progress) (any, error) {
	log := h.logger.With(
		"source_type", p.SourceType,
		"connection_id", p.ConnectionID,
		"tenant_id", p.TenantID,
		"library_id", p.LibraryID,
	)

	if p.ConnectionID != "" {
		if err := h.checkConnection(ctx, p); err != nil {
			if errors.Is(err, ErrConnectionUnavailable) {
				log.Error("discovery skipped", "error", err)
			}
			return nil, err
		}
	}

	adapter, err := h.adapters.Get(p.SourceType)
	if err != nil {
		return nil, Permanent(err)
	}

	items, err := adapter.Discover(ctx, discovery.Options{
		ConnectionID: p.ConnectionID,
		TenantID:     p.TenantID,
		LibraryID:    p.LibraryID,
		CustomerID:   p.CustomerID,
		Since:        p.Since,
		Limit:        p.Limit,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("discover %s sources: %w", p.SourceType, err))
	}
	progress(50)

	stagedBy := p.RequestedBy
	if stagedBy == "" {
		stagedBy = defaultStagedBy
	}
	scope := staging.Input{
		SourceType:   p.SourceType,
		LibraryID:    p.LibraryID,
		TenantID:     p.TenantID,
		ConnectionID: p.ConnectionID,
		StagedBy:     stagedBy,
	}
	inputs := make([]staging.Input, 0, len(items))
	for _, item := range items {
		inputs = append(inputs, staging.FromItem(item, scope))
	}

	res, err := h.stager.StageSources(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("stage %s sources: %w", p.SourceType, err)
	}
	progress(100)

	log.Info("discovery staged sources", "discovered", len(items), "staged", res.Staged, "updated", res.Updated)
	return DiscoveryResult{
		SourceType:   p.SourceType,
		ConnectionID: p.ConnectionID,
		Discovered:   len(items),
		Staged:       res.Staged,
		Updated:      res.Updated,
	}, nil
}

func (h *DiscoveryHandler) checkConnection(ctx context.Context, p dto.DiscoverSourcesPayload) error {
	conn, err := h.connections.GetByID(ctx, p.ConnectionID)
	if errors.Is(err, models.ErrNotFound) {
		return Permanent(fmt.Errorf("%w: %s", ErrConnectionUnavailable, p.ConnectionID))
	}
	if err != nil {
		return fmt.Errorf("load connection %s: %w", p.ConnectionID, err)
	}

	if conn.Status != config.ConnectionStatusActive ||
		conn.IntegrationType != p.SourceType ||
		conn.TenantID != p.TenantID {
		return Permanent(fmt.Errorf("%w: %s", ErrConnectionUnavailable, p.ConnectionID))
	}
	return nil
}
