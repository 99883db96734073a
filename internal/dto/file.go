package dto

type ProcessFilePayload struct {
	FileID      string `json:"file_id" validate:"required"`
	URL         string `json:"url" validate:"required,url"`
	Title       string `json:"title" validate:"required"`
	LibraryID   string `json:"library_id" validate:"required"`
	TenantID    string `json:"tenant_id,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

func (ProcessFilePayload) sealed() {}
