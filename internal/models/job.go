package models

import (
	"time"
)

// Job statuses persisted in Postgres.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Job types handled by the worker.
const (
	JobBackfill  = "backfill"
	JobDailySync = "daily_sync"
	JobRefresh   = "refresh_content"
)

// Default priorities: onboarding backfills outrank recurring syncs.
const (
	PriorityBackfill  = 100
	PriorityDailySync = 50
	PriorityRefresh   = 60
)

// SyncJob is a unit of sync work persisted in Postgres.
type SyncJob struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	JobType      string         `json:"job_type"`
	Payload      map[string]any `json:"payload"`
	Status       string         `json:"status"`
	Priority     int            `json:"priority"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Terminal reports whether the job has reached a final state.
func (j SyncJob) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}
