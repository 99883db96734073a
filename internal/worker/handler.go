package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshu-sajeev/sourcestage/internal/dto"
)

// Progress reports handler progress in percent.
type Progress func(percent int)

type Handler[P dto.Payload] func(ctx context.Context, payload P, progress Progress) (any, error)

// Handlers holds exactly one handler per payload variant.
type Handlers struct {
	ProcessFile   Handler[dto.ProcessFilePayload]
	GenerateSkill Handler[dto.GenerateSkillPayload]
	BulkOperation Handler[dto.BulkOperationPayload]
	Analytics     Handler[dto.AggregateAnalyticsPayload]
	Discover      Handler[dto.DiscoverSourcesPayload]
}

// Validate fails when a variant has no handler, so a misconfigured worker
// stops at startup instead of failing jobs.
func (h Handlers) Validate() error {
	var errs []error
	if h.ProcessFile == nil {
		errs = append(errs, errors.New("process file handler missing"))
	}
	if h.GenerateSkill == nil {
		errs = append(errs, errors.New("generate skill handler missing"))
	}
	if h.BulkOperation == nil {
		errs = append(errs, errors.New("bulk operation handler missing"))
	}
	if h.Analytics == nil {
		errs = append(errs, errors.New("analytics handler missing"))
	}
	if h.Discover == nil {
		errs = append(errs, errors.New("discovery handler missing"))
	}
	return errors.Join(errs...)
}

func (h Handlers) Dispatch(ctx context.Context, payload dto.Payload, progress Progress) (any, error) {
	switch p := payload.(type) {
	case dto.ProcessFilePayload:
		return h.ProcessFile(ctx, p, progress)
	case dto.GenerateSkillPayload:
		return h.GenerateSkill(ctx, p, progress)
	case dto.BulkOperationPayload:
		return h.BulkOperation(ctx, p, progress)
	case dto.AggregateAnalyticsPayload:
		return h.Analytics(ctx, p, progress)
	case dto.DiscoverSourcesPayload:
		return h.Discover(ctx, p, progress)
	default:
		return nil, Permanent(fmt.Errorf("no handler for payload %T", payload))
	}
}

// NewHandlers wires the built-in handlers.
func NewHandlers(file *FileHandler, skill *SkillHandler, bulk *BulkHandler, analytics *AnalyticsHandler, disc *DiscoveryHandler) Handlers {
	return Handlers{
		ProcessFile:   file.Handle,
		GenerateSkill: skill.Handle,
		BulkOperation: bulk.Handle,
		Analytics:     analytics.Handle,
		Discover:      disc.Handle,
	}
}
