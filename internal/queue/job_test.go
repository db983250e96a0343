package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benvon/timesheet-sync/internal/entries"
	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/google/uuid"
)

func testRequest() entries.Request {
	return entries.Request{
		Description:  "Onsite visit",
		Client:       "ACME",
		Project:      "Support",
		Activity:     "Field work",
		Hours:        2,
		Distribution: models.DistributionToday,
	}
}

func TestNewEntryJob(t *testing.T) {
	t.Parallel()

	job := NewEntryJob(testRequest(), "telegram")

	if job.ID == uuid.Nil {
		t.Error("Expected job ID to be set")
	}
	if job.Type != JobTypeManualEntry {
		t.Errorf("Expected job type to be %s, got %s", JobTypeManualEntry, job.Type)
	}
	if job.Entry == nil || job.Entry.Client != "ACME" {
		t.Errorf("Expected entry to be carried, got %+v", job.Entry)
	}
	if job.Origin != "telegram" {
		t.Errorf("Expected origin telegram, got %s", job.Origin)
	}
	if job.RetryCount != 0 {
		t.Errorf("Expected retry count to be 0, got %d", job.RetryCount)
	}
	if job.MaxRetries != DefaultMaxRetries {
		t.Errorf("Expected max retries to be %d, got %d", DefaultMaxRetries, job.MaxRetries)
	}
}

func TestNewRunJob(t *testing.T) {
	t.Parallel()

	job := NewRunJob(JobTypeForceIngest, 7, "api")
	if job.Type != JobTypeForceIngest || job.BacklogDays != 7 || job.Entry != nil {
		t.Errorf("unexpected run job %+v", job)
	}
}

func TestJob_IsExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tests := []struct {
		name     string
		notAfter *time.Time
		want     bool
	}{
		{name: "no expiration", notAfter: nil, want: false},
		{name: "expires in future", notAfter: timePtr(now.Add(time.Hour)), want: false},
		{name: "expired", notAfter: timePtr(now.Add(-time.Hour)), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			job := &Job{ID: uuid.New(), Type: JobTypeForceProcess, NotAfter: tt.notAfter}
			if got := job.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_CanRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		want       bool
	}{
		{name: "no retries yet", retryCount: 0, maxRetries: 3, want: true},
		{name: "some retries left", retryCount: 2, maxRetries: 3, want: true},
		{name: "max retries reached", retryCount: 3, maxRetries: 3, want: false},
		{name: "over max retries", retryCount: 4, maxRetries: 3, want: false},
		{name: "zero max retries", retryCount: 0, maxRetries: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			job := &Job{RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}
			if got := job.CanRetry(); got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_IncrementRetry(t *testing.T) {
	t.Parallel()

	job := &Job{RetryCount: 0, MaxRetries: 3}
	job.IncrementRetry()
	job.IncrementRetry()
	if job.RetryCount != 2 {
		t.Errorf("Expected retry count 2, got %d", job.RetryCount)
	}
}

func TestDecodeJob(t *testing.T) {
	t.Parallel()

	valid, err := encodeJob(NewEntryJob(testRequest(), "telegram"))
	if err != nil {
		t.Fatalf("encodeJob: %v", err)
	}
	noRetries, _ := json.Marshal(map[string]any{"id": uuid.New(), "type": "force_process"})

	tests := []struct {
		name    string
		body    []byte
		wantErr bool
	}{
		{name: "manual entry", body: valid},
		{name: "force process defaults retries", body: noRetries},
		{name: "malformed json", body: []byte("{"), wantErr: true},
		{name: "unknown type", body: []byte(`{"type":"reprocess_user"}`), wantErr: true},
		{name: "entry missing", body: []byte(`{"type":"manual_entry"}`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			job, err := decodeJob(tt.body)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeJob() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && job.MaxRetries != DefaultMaxRetries {
				t.Errorf("Expected max retries %d, got %d", DefaultMaxRetries, job.MaxRetries)
			}
		})
	}

	if _, err := encodeJob(nil); err == nil {
		t.Error("Expected error encoding nil job")
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
