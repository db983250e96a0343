package models

// Distribution selects the calendar day(s) a manual entry is booked on.
type Distribution string

const (
	DistributionToday    Distribution = "today"
	DistributionTomorrow Distribution = "tomorrow"
	// DistributionSplit books half the hours today and half tomorrow.
	DistributionSplit Distribution = "split"
	// DistributionDate books the hours on an explicit date.
	DistributionDate Distribution = "date"
)

// Valid reports whether d is a known distribution.
func (d Distribution) Valid() bool {
	switch d {
	case DistributionToday, DistributionTomorrow, DistributionSplit, DistributionDate:
		return true
	default:
		return false
	}
}
