package worker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/joshu-sajeev/sourcestage/internal/discovery"
	"github.com/joshu-sajeev/sourcestage/internal/dto"
	"github.com/joshu-sajeev/sourcestage/internal/models"
	"github.com/joshu-sajeev/sourcestage/internal/staging"
)

const SourceUpload = "upload"

type Fetcher interface {
	Request(ctx context.Context, method, endpoint string, body any, headers map[string]string, out any) error
}

type SingleStager interface {
	StageSource(ctx context.Context, in staging.Input) (*models.StagedSource, bool, error)
}

type FileResult struct {
	StagedSourceID string `json:"staged_source_id"`
	Created        bool   `json:"created"`
	Characters     int    `json:"characters"`
}

// FileHandler downloads an uploaded file and stages its text. Only URLs
// admitted by the allowlist are fetched.
type FileHandler struct {
	fetcher Fetcher
	stager  SingleStager
	allow   URLAllowlist
}

func NewFileHandler(fetcher Fetcher, stager SingleStager, allow URLAllowlist) *FileHandler {
	return &FileHandler{fetcher: fetcher, stager: stager, allow: allow}
}

func (h *FileHandler) Handle(ctx context.Context, p dto.ProcessFilePayload, progress Progress) (any, error) {
	if err := h.allow.Check(p.URL); err != nil {
		return nil, Permanent(fmt.Errorf("fetch file %s: %w", p.FileID, err))
	}

	var raw []byte
	if err := h.fetcher.Request(ctx, http.MethodGet, p.URL, nil, nil, &raw); err != nil {
		return nil, classify(fmt.Errorf("fetch file %s: %w", p.FileID, err))
	}
	progress(40)

	content, err := extractText(raw)
	if err != nil {
		return nil, Permanent(fmt.Errorf("extract text of file %s: %w", p.FileID, err))
	}
	progress(70)

	stagedBy := p.RequestedBy
	if stagedBy == "" {
		stagedBy = "upload"
	}
	src, created, err := h.stager.StageSource(ctx, staging.Input{
		SourceType: SourceUpload,
		ExternalID: p.FileID,
		LibraryID:  p.LibraryID,
		TenantID:   p.TenantID,
		Title:      p.Title,
		Content:    content,
		Metadata: map[string]any{
			"url":          p.URL,
			"content_type": http.DetectContentType(raw),
			"bytes":        len(raw),
		},
		StagedBy: stagedBy,
	})
	if err != nil {
		return nil, err
	}
	progress(100)

	return FileResult{StagedSourceID: src.ID, Created: created, Characters: utf8.RuneCountInString(content)}, nil
}

func extractText(raw []byte) (string, error) {
	ctype := http.DetectContentType(raw)
	switch {
	case strings.HasPrefix(ctype, "text/html"), strings.HasPrefix(ctype, "text/xml"):
		return discovery.HTMLToText(string(raw)), nil
	case strings.HasPrefix(ctype, "text/"), ctype == "application/json":
		return strings.TrimSpace(string(raw)), nil
	default:
		return "", fmt.Errorf("unsupported content type %s", ctype)
	}
}
