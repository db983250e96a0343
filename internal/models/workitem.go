package models

import (
	"errors"
	"sort"
	"time"
)

// DateLayout is the calendar-date layout used for date keys.
const DateLayout = "2006-01-02"

// Source identifies where a work item came from
type Source string

const (
	// SourceExternal marks items read from the ticket record system
	SourceExternal Source = "external-system"
	// SourceManual marks items entered interactively with a fixed duration
	SourceManual Source = "manual"
)

// WorkItem is one unit of billable work waiting to be time-logged.
// ID is the idempotency key for the processed ledger.
type WorkItem struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	OriginDate           time.Time `json:"origin_date"`
	Source               Source    `json:"source"`
	FixedDurationMinutes *int      `json:"fixed_duration_minutes,omitempty"`
	Metadata             Metadata  `json:"metadata,omitempty"`
	QueuedAt             time.Time `json:"queued_at,omitempty"`
}

// DateKey returns the origin date formatted as YYYY-MM-DD.
func (w WorkItem) DateKey() string {
	return w.OriginDate.Format(DateLayout)
}

// IsFixed reports whether the item carries a fixed manual duration.
func (w WorkItem) IsFixed() bool {
	return w.FixedDurationMinutes != nil
}

// IsManual reports whether the item was entered by hand.
func (w WorkItem) IsManual() bool {
	return w.Source == SourceManual
}

// Validate checks the fields every queued item must carry.
func (w WorkItem) Validate() error {
	if w.ID == "" {
		return errors.New("work item id is required")
	}
	if w.OriginDate.IsZero() {
		return errors.New("work item origin date is required")
	}
	switch w.Source {
	case SourceExternal:
		if w.FixedDurationMinutes != nil {
			return errors.New("external work items cannot carry a fixed duration")
		}
	case SourceManual:
		if w.FixedDurationMinutes == nil || *w.FixedDurationMinutes <= 0 {
			return errors.New("manual work items require a positive fixed duration")
		}
	default:
		return errors.New("work item source must be external-system or manual")
	}
	return nil
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// DaySchedule partitions a processing run: one calendar date and the items
// attributed to it, in queue order. It is derived per run and never persisted.
type DaySchedule struct {
	Date  string
	Items []WorkItem
}

// GroupByDate partitions items by origin date, ascending. Relative item
// order within a date is preserved.
func GroupByDate(items []WorkItem) []DaySchedule {
	index := make(map[string]int)
	var days []DaySchedule
	for _, item := range items {
		key := item.DateKey()
		i, ok := index[key]
		if !ok {
			i = len(days)
			index[key] = i
			days = append(days, DaySchedule{Date: key})
		}
		days[i].Items = append(days[i].Items, item)
	}
	sort.SliceStable(days, func(a, b int) bool {
		return days[a].Date < days[b].Date
	})
	return days
}
