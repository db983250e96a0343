package queue

import (
	"time"

	"github.com/benvon/timesheet-sync/internal/entries"
	"github.com/google/uuid"
)

// JobType represents the type of job
type JobType string

const (
	// JobTypeManualEntry queues a manual time entry
	JobTypeManualEntry JobType = "manual_entry"
	// JobTypeForceIngest requests an immediate ingestion run
	JobTypeForceIngest JobType = "force_ingest"
	// JobTypeForceProcess requests an immediate batch processing run
	JobTypeForceProcess JobType = "force_process"
)

// DefaultMaxRetries bounds redelivery of a failing job before it is dead-lettered.
const DefaultMaxRetries = 3

// Job is one intake message, usually published by the chat front-end.
type Job struct {
	ID   uuid.UUID `json:"id"`
	Type JobType   `json:"type"`
	// Entry is set for manual_entry jobs.
	Entry *entries.Request `json:"entry,omitempty"`
	// BacklogDays selects a range ingestion for force_ingest jobs; 0 means today only.
	BacklogDays int `json:"backlog_days,omitempty"`
	// Origin names the publisher, for example "telegram" or "api".
	Origin     string     `json:"origin,omitempty"`
	NotAfter   *time.Time `json:"not_after,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
}

// NewEntryJob creates a manual entry job
func NewEntryJob(req entries.Request, origin string) *Job {
	return &Job{
		ID:         uuid.New(),
		Type:       JobTypeManualEntry,
		Entry:      &req,
		Origin:     origin,
		CreatedAt:  time.Now(),
		MaxRetries: DefaultMaxRetries,
	}
}

// NewRunJob creates a force_ingest or force_process job
func NewRunJob(jobType JobType, backlogDays int, origin string) *Job {
	return &Job{
		ID:          uuid.New(),
		Type:        jobType,
		BacklogDays: backlogDays,
		Origin:      origin,
		CreatedAt:   time.Now(),
		MaxRetries:  DefaultMaxRetries,
	}
}

// IsExpired checks if the job has expired
func (j *Job) IsExpired() bool {
	if j.NotAfter == nil {
		return false
	}

	return time.Now().After(*j.NotAfter)
}

// CanRetry checks if the job can be retried
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// IncrementRetry increments the retry count
func (j *Job) IncrementRetry() {
	j.RetryCount++
}
