package dto

type GenerateSkillPayload struct {
	StagedSourceIDs []string `json:"staged_source_ids" validate:"required,min=1,dive,required"`
	LibraryID       string   `json:"library_id" validate:"required"`
	TenantID        string   `json:"tenant_id,omitempty"`
	Instructions    string   `json:"instructions,omitempty"`
}

func (GenerateSkillPayload) sealed() {}
