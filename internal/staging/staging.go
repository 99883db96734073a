// Package staging upserts discovered documents into the staged source store.
package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/discovery"
	"github.com/joshu-sajeev/sourcestage/internal/models"
	"gorm.io/datatypes"
)

type SourceStore interface {
	FindByKey(ctx context.Context, key models.StagedSourceKey) (*models.StagedSource, error)
	Create(ctx context.Context, src *models.StagedSource) error
	Update(ctx context.Context, src *models.StagedSource) error
}

type Input struct {
	SourceType   string
	ExternalID   string
	LibraryID    string
	TenantID     string
	ConnectionID string
	Title        string
	Content      string
	Preview      string
	Metadata     map[string]any
	StagedBy     string
}

func (in Input) key() models.StagedSourceKey {
	return models.StagedSourceKey{
		SourceType: in.SourceType,
		ExternalID: in.ExternalID,
		LibraryID:  in.LibraryID,
		TenantID:   in.TenantID,
	}
}

// FromItem builds the staging input of a discovered item. scope supplies the
// identity and provenance fields shared by a whole discovery run.
func FromItem(item discovery.Item, scope Input) Input {
	scope.ExternalID = item.ExternalID
	scope.Title = item.Title
	scope.Content = item.Content
	scope.Preview = item.Preview
	scope.Metadata = item.Metadata
	return scope
}

type Result struct {
	Staged  int `json:"staged"`
	Updated int `json:"updated"`
}

type Stager struct {
	store  SourceStore
	now    func() time.Time
	logger *slog.Logger
}

func NewStager(store SourceStore, logger *slog.Logger) *Stager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stager{store: store, now: time.Now, logger: logger}
}

// StageSource inserts in or overwrites the row with the same identity. The
// bool reports whether a new row was created. Staging the same input twice
// leaves one row with the later staged_at.
func (s *Stager) StageSource(ctx context.Context, in Input) (*models.StagedSource, bool, error) {
	if in.SourceType == "" || in.ExternalID == "" || in.LibraryID == "" {
		return nil, false, fmt.Errorf("stage source: source type, external id and library are required")
	}

	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	rawMeta, err := json.Marshal(metadata)
	if err != nil {
		return nil, false, fmt.Errorf("encode metadata of %s/%s: %w", in.SourceType, in.ExternalID, err)
	}

	preview := in.Preview
	if preview == "" {
		preview = discovery.Preview(in.Content)
	}

	src := &models.StagedSource{
		SourceType:   in.SourceType,
		ExternalID:   in.ExternalID,
		LibraryID:    in.LibraryID,
		TenantID:     in.TenantID,
		ConnectionID: in.ConnectionID,
		Title:        in.Title,
		Content:      in.Content,
		Preview:      preview,
		Metadata:     datatypes.JSON(rawMeta),
		StagedAt:     s.now().UTC(),
		StagedBy:     in.StagedBy,
	}

	existing, err := s.store.FindByKey(ctx, in.key())
	switch {
	case err == nil:
		return s.overwrite(ctx, existing, src)
	case !errors.Is(err, models.ErrNotFound):
		return nil, false, err
	}

	err = s.store.Create(ctx, src)
	if err == nil {
		return src, true, nil
	}
	if !errors.Is(err, models.ErrDuplicate) {
		return nil, false, err
	}

	// a concurrent run created the row first
	s.logger.Debug("staged source created concurrently, updating",
		"source_type", in.SourceType, "external_id", in.ExternalID)
	existing, err = s.store.FindByKey(ctx, in.key())
	if err != nil {
		return nil, false, err
	}
	return s.overwrite(ctx, existing, src)
}

func (s *Stager) overwrite(ctx context.Context, existing, src *models.StagedSource) (*models.StagedSource, bool, error) {
	src.ID = existing.ID
	src.CreatedAt = existing.CreatedAt
	if err := s.store.Update(ctx, src); err != nil {
		return nil, false, err
	}
	return src, false, nil
}

// StageSources stages every input in order and stops at the first error.
// The counts cover the inputs staged before it.
func (s *Stager) StageSources(ctx context.Context, inputs []Input) (Result, error) {
	var res Result
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, created, err := s.StageSource(ctx, in)
		if err != nil {
			return res, err
		}
		if created {
			res.Staged++
		} else {
			res.Updated++
		}
	}
	return res, nil
}
