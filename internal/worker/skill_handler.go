package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/joshu-sajeev/sourcestage/internal/dto"
	"github.com/joshu-sajeev/sourcestage/internal/models"
)

type SkillRequest struct {
	StagedSourceID string          `json:"staged_source_id"`
	SourceType     string          `json:"source_type"`
	LibraryID      string          `json:"library_id"`
	TenantID       string          `json:"tenant_id,omitempty"`
	Title          string          `json:"title"`
	Content        string          `json:"content"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Instructions   string          `json:"instructions,omitempty"`
}

type Skill struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SkillGenerator turns one staged source into a skill.
type SkillGenerator interface {
	Generate(ctx context.Context, req SkillRequest) (*Skill, error)
}

// HTTPSkillGenerator posts requests to the skill service.
type HTTPSkillGenerator struct {
	client Fetcher
}

func NewHTTPSkillGenerator(client Fetcher) *HTTPSkillGenerator {
	return &HTTPSkillGenerator{client: client}
}

func (g *HTTPSkillGenerator) Generate(ctx context.Context, req SkillRequest) (*Skill, error) {
	var skill Skill
	if err := g.client.Request(ctx, http.MethodPost, "skills", req, nil, &skill); err != nil {
		return nil, fmt.Errorf("generate skill for %s: %w", req.StagedSourceID, err)
	}
	return &skill, nil
}

type SourceReader interface {
	GetByIDs(ctx context.Context, ids []string) ([]models.StagedSource, error)
}

type SkillResult struct {
	Skills  []Skill           `json:"skills"`
	Missing []string          `json:"missing,omitempty"`
	Failed  map[string]string `json:"failed,omitempty"`
}

type SkillHandler struct {
	sources   SourceReader
	generator SkillGenerator
	logger    *slog.Logger
}

func NewSkillHandler(sources SourceReader, generator SkillGenerator, logger *slog.Logger) *SkillHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SkillHandler{sources: sources, generator: generator, logger: logger}
}

// Handle generates one skill per staged source. Sources that no longer exist
// are reported as missing; the job only fails when nothing was generated.
func (h *SkillHandler) Handle(ctx context.Context, p dto.GenerateSkillPayload, progress Progress) (any, error) {
	sources, err := h.sources.GetByIDs(ctx, p.StagedSourceIDs)
	if err != nil {
		return nil, err
	}

	res := SkillResult{Skills: []Skill{}, Failed: map[string]string{}}
	found := make([]string, 0, len(sources))
	for _, src := range sources {
		found = append(found, src.ID)
	}
	for _, id := range p.StagedSourceIDs {
		if !slices.Contains(found, id) {
			res.Missing = append(res.Missing, id)
		}
	}
	if len(sources) == 0 {
		return nil, Permanent(fmt.Errorf("none of %d staged sources exist", len(p.StagedSourceIDs)))
	}

	var errs []error
	for i, src := range sources {
		skill, err := h.generator.Generate(ctx, SkillRequest{
			StagedSourceID: src.ID,
			SourceType:     src.SourceType,
			LibraryID:      p.LibraryID,
			TenantID:       p.TenantID,
			Title:          src.Title,
			Content:        src.Content,
			Metadata:       json.RawMessage(src.Metadata),
			Instructions:   p.Instructions,
		})
		if err != nil {
			h.logger.Warn("skill generation failed", "staged_source_id", src.ID, "error", err)
			res.Failed[src.ID] = err.Error()
			errs = append(errs, err)
		} else {
			res.Skills = append(res.Skills, *skill)
		}
		progress((i + 1) * 100 / len(sources))
	}

	if len(res.Skills) == 0 {
		return nil, errors.Join(errs...)
	}
	return res, nil
}
