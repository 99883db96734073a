package dto

import (
	"encoding/json"
	"fmt"

	"github.com/joshu-sajeev/sourcestage/internal/config"
)

// Payload is the closed set of job payloads. Only types in this package
// implement it.
type Payload interface {
	sealed()
}

// DecodePayload turns a stored (type, payload) pair into its typed variant.
func DecodePayload(jobType string, raw json.RawMessage) (Payload, error) {
	switch config.JobType(jobType) {
	case config.JobTypeProcessFile:
		return decode[ProcessFilePayload](raw)
	case config.JobTypeGenerateSkill:
		return decode[GenerateSkillPayload](raw)
	case config.JobTypeBulkOperation:
		return decode[BulkOperationPayload](raw)
	case config.JobTypeAggregateMetrics:
		return decode[AggregateAnalyticsPayload](raw)
	case config.JobTypeDiscoverSources:
		return decode[DiscoverSourcesPayload](raw)
	default:
		return nil, fmt.Errorf("unknown job type: %s", jobType)
	}
}

func decode[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", p, err)
	}
	return p, nil
}
