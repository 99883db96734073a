package worker

import (
	"context"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/dto"
)

type SourceCounter interface {
	CountBySourceType(ctx context.Context, libraryID, tenantID string) (map[string]int64, error)
}

type AnalyticsResult struct {
	LibraryID  string           `json:"library_id"`
	TenantID   string           `json:"tenant_id,omitempty"`
	Counts     map[string]int64 `json:"counts"`
	Total      int64            `json:"total"`
	ComputedAt time.Time        `json:"computed_at"`
}

type AnalyticsHandler struct {
	counter SourceCounter
	now     func() time.Time
}

func NewAnalyticsHandler(counter SourceCounter) *AnalyticsHandler {
	return &AnalyticsHandler{counter: counter, now: time.Now}
}

func (h *AnalyticsHandler) Handle(ctx context.Context, p dto.AggregateAnalyticsPayload, progress Progress) (any, error) {
	counts, err := h.counter.CountBySourceType(ctx, p.LibraryID, p.TenantID)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	progress(100)

	return AnalyticsResult{
		LibraryID:  p.LibraryID,
		TenantID:   p.TenantID,
		Counts:     counts,
		Total:      total,
		ComputedAt: h.now().UTC(),
	}, nil
}
