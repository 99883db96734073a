package dto

import (
	"encoding/json"
	"time"
)

type JobCreateDTO struct {
	Queue   string          `json:"queue" validate:"required"`
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
	Options JobOptions      `json:"options"`
}

// JobOptions override the process-wide retry and retention policy for one job.
type JobOptions struct {
	MaxAttempts        int        `json:"max_attempts" validate:"gte=0,lte=20"`
	BackoffMillis      int64      `json:"backoff_ms" validate:"gte=0"`
	AvailableAt        *time.Time `json:"available_at,omitempty"`
	RetainCompletedSec int64      `json:"retain_completed_sec" validate:"gte=0"`
	RetainFailedSec    int64      `json:"retain_failed_sec" validate:"gte=0"`
}

type JobResponseDTO struct {
	ID          uint            `json:"id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Progress    int             `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	AvailableAt time.Time       `json:"available_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// JobDTO is what a worker sees after claiming a job. LockToken identifies the
// claim; finishing calls made with a stale token are rejected.
type JobDTO struct {
	ID              uint
	Queue           string
	Type            string
	Payload         json.RawMessage
	Attempts        int
	MaxAttempts     int
	Backoff         time.Duration
	RetainCompleted time.Duration
	RetainFailed    time.Duration
	LockToken       string
}
