package worker

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/dto"
)

const bulkChunkSize = 100

type BulkStore interface {
	Delete(ctx context.Context, ids []string) (int64, error)
	Touch(ctx context.Context, ids []string, stagedBy string, at time.Time) (int64, error)
}

type BulkResult struct {
	Operation string `json:"operation"`
	Requested int    `json:"requested"`
	Affected  int64  `json:"affected"`
}

// BulkHandler deletes or restages staged sources in chunks.
type BulkHandler struct {
	store BulkStore
	now   func() time.Time
}

func NewBulkHandler(store BulkStore) *BulkHandler {
	return &BulkHandler{store: store, now: time.Now}
}

func (h *BulkHandler) Handle(ctx context.Context, p dto.BulkOperationPayload, progress Progress) (any, error) {
	var op func(ctx context.Context, ids []string) (int64, error)
	switch p.Operation {
	case dto.BulkOpDelete:
		op = h.store.Delete
	case dto.BulkOpRestage:
		stagedBy := p.RequestedBy
		if stagedBy == "" {
			stagedBy = "bulk-operation"
		}
		at := h.now().UTC()
		op = func(ctx context.Context, ids []string) (int64, error) {
			return h.store.Touch(ctx, ids, stagedBy, at)
		}
	default:
		return nil, Permanent(fmt.Errorf("unknown bulk operation %q", p.Operation))
	}

	res := BulkResult{Operation: p.Operation, Requested: len(p.StagedSourceIDs)}
	done := 0
	for chunk := range slices.Chunk(p.StagedSourceIDs, bulkChunkSize) {
		n, err := op(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("%s staged sources: %w", p.Operation, err)
		}
		res.Affected += n
		done += len(chunk)
		progress(done * 100 / len(p.StagedSourceIDs))
	}
	return res, nil
}
