package models

import "time"

// IngestSummary records the outcome of one ingestion run.
type IngestSummary struct {
	RunID      string    `json:"run_id"`
	Origin     string    `json:"origin"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Fetched    int       `json:"fetched"`
	Queued     int       `json:"queued"`
	// Skipped counts items already in the ledger or already pending.
	Skipped int    `json:"skipped"`
	Invalid int    `json:"invalid"`
	Error   string `json:"error,omitempty"`
}

// BatchSummary records the outcome of one processing run.
type BatchSummary struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Dates          int       `json:"dates"`
	SlotsSubmitted int       `json:"slots_submitted"`
	SlotsFailed    int       `json:"slots_failed"`
	// Processed counts items committed to the ledger after submission.
	Processed  int      `json:"processed"`
	Abandoned  []string `json:"abandoned,omitempty"`
	WeekLocked []string `json:"week_locked,omitempty"`
	// Remaining counts items left pending for a later run.
	Remaining int    `json:"remaining"`
	Aborted   bool   `json:"aborted"`
	Error     string `json:"error,omitempty"`
}
