package dto

import "time"

type DiscoverSourcesPayload struct {
	SourceType   string    `json:"source_type" validate:"required,oneof=zendesk slack confluence"`
	ConnectionID string    `json:"connection_id,omitempty" validate:"omitempty,uuid"`
	TenantID     string    `json:"tenant_id,omitempty"`
	LibraryID    string    `json:"library_id" validate:"required"`
	CustomerID   string    `json:"customer_id,omitempty"`
	Since        time.Time `json:"since" validate:"required"`
	Limit        int       `json:"limit" validate:"gte=0,lte=1000"`
	RequestedBy  string    `json:"requested_by,omitempty"`
}

func (DiscoverSourcesPayload) sealed() {}
