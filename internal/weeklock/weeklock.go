// Package weeklock decides whether a calendar week is closed for time entry.
//
// Entries for a week are accepted through Tuesday of the following ISO week.
// From Wednesday on, every earlier week is closed.
package weeklock

import "time"

// CutoffWeekday is the ISO weekday (Monday=1) from which earlier weeks lock.
const CutoffWeekday = 3

// IsLocked reports whether itemDate falls in an ISO week that is closed as of now.
func IsLocked(itemDate, now time.Time) bool {
	itemYear, itemWeek := itemDate.ISOWeek()
	nowYear, nowWeek := now.ISOWeek()

	earlier := itemYear < nowYear || (itemYear == nowYear && itemWeek < nowWeek)
	if !earlier {
		return false
	}
	return isoWeekday(now) >= CutoffWeekday
}

// isoWeekday maps time.Weekday onto 1 (Monday) .. 7 (Sunday).
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
