package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joshu-sajeev/sourcestage/internal/models"
	"gorm.io/gorm"
)

type StagedSourceRepository struct {
	db *gorm.DB
}

func NewStagedSourceRepository(db *gorm.DB) *StagedSourceRepository {
	return &StagedSourceRepository{db: db}
}

// FindByKey returns the staged source with the given identity, or
// models.ErrNotFound.
func (r *StagedSourceRepository) FindByKey(ctx context.Context, key models.StagedSourceKey) (*models.StagedSource, error) {
	var src models.StagedSource
	err := r.db.WithContext(ctx).
		Where("source_type = ? AND external_id = ? AND library_id = ? AND tenant_id = ?",
			key.SourceType, key.ExternalID, key.LibraryID, key.TenantID).
		Take(&src).Error
	if err != nil {
		return nil, fmt.Errorf("find staged source %s/%s: %w", key.SourceType, key.ExternalID, translate(err))
	}
	return &src, nil
}

// Create inserts src. A concurrent insert of the same identity fails with
// models.ErrDuplicate.
func (r *StagedSourceRepository) Create(ctx context.Context, src *models.StagedSource) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(src).Error; err != nil {
		return fmt.Errorf("create staged source: %w", translate(err))
	}
	return nil
}

// Update overwrites the staged fields of an existing row.
func (r *StagedSourceRepository) Update(ctx context.Context, src *models.StagedSource) error {
	res := r.db.WithContext(ctx).Model(&models.StagedSource{}).
		Where("id = ?", src.ID).
		Updates(map[string]any{
			"connection_id": src.ConnectionID,
			"title":         src.Title,
			"content":       src.Content,
			"preview":       src.Preview,
			"metadata":      src.Metadata,
			"staged_at":     src.StagedAt,
			"staged_by":     src.StagedBy,
		})
	if res.Error != nil {
		return fmt.Errorf("update staged source: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update staged source %s: %w", src.ID, models.ErrNotFound)
	}
	return nil
}

func (r *StagedSourceRepository) GetByIDs(ctx context.Context, ids []string) ([]models.StagedSource, error) {
	var srcs []models.StagedSource
	if len(ids) == 0 {
		return srcs, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("staged_at ASC").Find(&srcs).Error; err != nil {
		return nil, fmt.Errorf("get staged sources: %w", err)
	}
	return srcs, nil
}

// Delete removes the given staged sources and reports how many existed.
func (r *StagedSourceRepository) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.StagedSource{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete staged sources: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Touch refreshes the staging stamp of the given sources without changing
// their content.
func (r *StagedSourceRepository) Touch(ctx context.Context, ids []string, stagedBy string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.StagedSource{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"staged_at": at.UTC(), "staged_by": stagedBy})
	if res.Error != nil {
		return 0, fmt.Errorf("touch staged sources: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountBySourceType counts the staged sources of one library and tenant,
// grouped by source type.
func (r *StagedSourceRepository) CountBySourceType(ctx context.Context, libraryID, tenantID string) (map[string]int64, error) {
	var rows []struct {
		SourceType string
		Total      int64
	}
	err := r.db.WithContext(ctx).Model(&models.StagedSource{}).
		Select("source_type, COUNT(*) AS total").
		Where("library_id = ? AND tenant_id = ?", libraryID, tenantID).
		Group("source_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count staged sources: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.SourceType] = row.Total
	}
	return counts, nil
}
