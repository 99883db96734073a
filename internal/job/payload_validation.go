package job

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/joshu-sajeev/sourcestage/common"
	"github.com/joshu-sajeev/sourcestage/internal/config"
	"github.com/joshu-sajeev/sourcestage/internal/dto"
	"github.com/joshu-sajeev/sourcestage/middleware"
)

var validate = validator.New()

func validatePayload[T dto.Payload](raw json.RawMessage) error {
	var payload T

	if err := json.Unmarshal(raw, &payload); err != nil {
		return common.APIError{
			Status:  http.StatusBadRequest,
			Message: "invalid payload format",
		}
	}

	if err := validate.Struct(payload); err != nil {
		return common.APIError{
			Status:  http.StatusBadRequest,
			Message: "payload validation failed",
			Fields:  middleware.FormatValidationErrors(err),
		}
	}

	return nil
}

// validateJobPayload checks raw against the payload schema of jobType.
func validateJobPayload(jobType config.JobType, raw json.RawMessage) error {
	switch jobType {
	case config.JobTypeProcessFile:
		return validatePayload[dto.ProcessFilePayload](raw)
	case config.JobTypeGenerateSkill:
		return validatePayload[dto.GenerateSkillPayload](raw)
	case config.JobTypeBulkOperation:
		return validatePayload[dto.BulkOperationPayload](raw)
	case config.JobTypeAggregateMetrics:
		return validatePayload[dto.AggregateAnalyticsPayload](raw)
	case config.JobTypeDiscoverSources:
		return validatePayload[dto.DiscoverSourcesPayload](raw)
	default:
		return common.Errf(http.StatusBadRequest, "unknown job type %q", jobType)
	}
}
