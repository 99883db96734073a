package models

import (
	"time"

	"gorm.io/datatypes"
)

// StagedSource is unique per (source type, external id, library, tenant).
// TenantID is empty for sources that are not tenant scoped.
type StagedSource struct {
	ID           string         `gorm:"primaryKey;type:varchar(36)"`
	SourceType   string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_staged_sources_identity,priority:1"`
	ExternalID   string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_staged_sources_identity,priority:2"`
	LibraryID    string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_staged_sources_identity,priority:3"`
	TenantID     string         `gorm:"type:varchar(64);not null;default:'';uniqueIndex:idx_staged_sources_identity,priority:4"`
	ConnectionID string         `gorm:"type:varchar(36)"`
	Title        string         `gorm:"type:text;not null"`
	Content      string         `gorm:"type:text"`
	Preview      string         `gorm:"type:text"`
	Metadata     datatypes.JSON `gorm:"type:jsonb"`
	StagedAt     time.Time      `gorm:"not null"`
	StagedBy     string         `gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time      `gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime"`
}

// StagedSourceKey is the identifying tuple of a staged source.
type StagedSourceKey struct {
	SourceType string
	ExternalID string
	LibraryID  string
	TenantID   string
}

func (s *StagedSource) Key() StagedSourceKey {
	return StagedSourceKey{
		SourceType: s.SourceType,
		ExternalID: s.ExternalID,
		LibraryID:  s.LibraryID,
		TenantID:   s.TenantID,
	}
}
