package models

import (
	"time"

	"gorm.io/datatypes"
)

type Job struct {
	ID              uint           `gorm:"primaryKey;autoIncrement"`
	Queue           string         `gorm:"type:varchar(255);not null;index:idx_jobs_dequeue,priority:1"`
	Type            string         `gorm:"type:varchar(255);not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb"`
	Status          string         `gorm:"type:varchar(50);not null;default:'waiting';index:idx_jobs_dequeue,priority:2"`
	Attempts        int            `gorm:"default:0;not null"`
	MaxAttempts     int            `gorm:"default:3;not null"`
	BackoffMillis   int64          `gorm:"default:5000;not null"`
	Progress        int            `gorm:"default:0;not null"`
	Result          datatypes.JSON `gorm:"type:jsonb"`
	Error           string         `gorm:"type:text"`
	AvailableAt     time.Time      `gorm:"not null;index:idx_jobs_dequeue,priority:3"`
	LockedBy        string         `gorm:"type:varchar(255)"`
	LockedUntil     *time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	RetainCompleted int64 `gorm:"default:0;not null"` // seconds, 0 = process default
	RetainFailed    int64 `gorm:"default:0;not null"` // seconds, 0 = process default
	RetainUntil     *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// Backoff returns the retry delay base for this job.
func (j *Job) Backoff() time.Duration {
	return time.Duration(j.BackoffMillis) * time.Millisecond
}
