package models

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time expressed as minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay parses an "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q (expected HH:MM): %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// MustTimeOfDay is ParseTimeOfDay for constants and tests.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String formats the value as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// MinutesPerDay is the wall-clock length of a day; 24:00 is the latest slot end.
const MinutesPerDay TimeOfDay = 24 * 60

// On returns the wall-clock time t on the calendar date of day, in day's
// location. On days with a DST transition the elapsed time since midnight
// differs from t.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, int(t), 0, 0, day.Location())
}

// Window is a half-open [Start, End) interval within one day.
type Window struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Minutes returns the window length; negative windows report 0.
func (w Window) Minutes() int {
	if w.End <= w.Start {
		return 0
	}
	return int(w.End - w.Start)
}

// Contains reports whether t falls inside [Start, End).
func (w Window) Contains(t TimeOfDay) bool {
	return t >= w.Start && t < w.End
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// ScheduleSlot is one allocated, submittable time interval.
// End - Start always equals DurationMinutes.
type ScheduleSlot struct {
	WorkItemID      string    `json:"work_item_id"`
	Title           string    `json:"title"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	// Block is the 1-based sub-block index; Blocks is 1 for an unsplit item.
	Block  int `json:"block"`
	Blocks int `json:"blocks"`
	// SourceItem is a read-only view of the originating item.
	SourceItem *WorkItem `json:"-"`
}

// Metadata returns the originating item's metadata, never nil.
func (s ScheduleSlot) Metadata() Metadata {
	if s.SourceItem == nil || s.SourceItem.Metadata == nil {
		return Metadata{}
	}
	return s.SourceItem.Metadata
}
