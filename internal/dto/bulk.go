package dto

const (
	BulkOpDelete  = "delete"
	BulkOpRestage = "restage"
)

type BulkOperationPayload struct {
	Operation       string   `json:"operation" validate:"required,oneof=delete restage"`
	StagedSourceIDs []string `json:"staged_source_ids" validate:"required,min=1,dive,required"`
	RequestedBy     string   `json:"requested_by,omitempty"`
}

func (BulkOperationPayload) sealed() {}
