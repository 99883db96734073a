package dto

type AggregateAnalyticsPayload struct {
	LibraryID string `json:"library_id" validate:"required"`
	TenantID  string `json:"tenant_id,omitempty"`
}

func (AggregateAnalyticsPayload) sealed() {}
