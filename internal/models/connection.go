package models

import (
	"time"

	"gorm.io/datatypes"
)

// Connection is one configured integration for a tenant. The pipeline only
// reads it.
type Connection struct {
	ID              string         `gorm:"primaryKey;type:varchar(36)"`
	IntegrationType string         `gorm:"type:varchar(64);not null;index:idx_connections_lookup,priority:1"`
	TenantID        string         `gorm:"type:varchar(64);not null;default:'';index:idx_connections_lookup,priority:2"`
	Name            string         `gorm:"type:varchar(255);not null;default:''"`
	LibraryID       string         `gorm:"type:varchar(64);not null;default:''"`
	Config          datatypes.JSON `gorm:"type:jsonb"`
	Status          string         `gorm:"type:varchar(20);not null;default:'active'"`
	CreatedAt       time.Time      `gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime"`
}
