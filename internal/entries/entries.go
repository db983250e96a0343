// Package entries turns manual time entry requests into fixed-duration work items.
package entries

import (
	"fmt"
	"math"
	"time"

	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/benvon/timesheet-sync/internal/validation"
	"github.com/google/uuid"
)

// IDPrefix prefixes every manual work item id.
const IDPrefix = "manual-"

// Request is a manual time entry as submitted by an operator or the chat front-end.
type Request struct {
	Description  string              `json:"description" validate:"required,max=500"`
	Client       string              `json:"client" validate:"required,max=200"`
	Project      string              `json:"project" validate:"required,max=200"`
	Activity     string              `json:"activity" validate:"required,max=200"`
	Tags         []string            `json:"tags,omitempty" validate:"max=10,dive,max=50"`
	Hours        float64             `json:"hours" validate:"gt=0,lte=24"`
	Distribution models.Distribution `json:"distribution" validate:"required,distribution"`
	// Date is required for the "date" distribution, YYYY-MM-DD.
	Date string `json:"date,omitempty" validate:"required_if=Distribution date,omitempty,datetime=2006-01-02"`
}

// Ref identifies one submission of a request. Building the items of the
// same Ref twice yields the same ids and dates, so a redelivered submission
// is skipped on ingest instead of booked again.
type Ref struct {
	// ID seeds the work item ids; uuid.Nil picks a random one.
	ID uuid.UUID
	// At anchors relative distributions; zero means now.
	At time.Time
}

// Validate checks the request fields.
func (r Request) Validate() error {
	if err := validation.Validate.Struct(r); err != nil {
		return fmt.Errorf("invalid entry request: %s", validation.FormatErrors(err))
	}
	return nil
}

// Minutes returns the requested duration rounded to whole minutes.
func (r Request) Minutes() int {
	return int(math.Round(r.Hours * 60))
}

// WorkItems builds the manual work items for the request relative to ref.At,
// or now when ref.At is zero. A split request produces two items, the first
// day taking the odd minute. Item ids derive from ref.ID and the booked date.
func (r Request) WorkItems(now time.Time, ref Ref) ([]models.WorkItem, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if ref.ID == uuid.Nil {
		ref.ID = uuid.New()
	}
	anchor := now
	if !ref.At.IsZero() {
		anchor = ref.At.In(now.Location())
	}

	y, m, d := anchor.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	minutes := r.Minutes()

	type booking struct {
		day     time.Time
		minutes int
	}
	var bookings []booking
	switch r.Distribution {
	case models.DistributionToday:
		bookings = []booking{{today, minutes}}
	case models.DistributionTomorrow:
		bookings = []booking{{today.AddDate(0, 0, 1), minutes}}
	case models.DistributionSplit:
		second := minutes / 2
		bookings = []booking{{today, minutes - second}, {today.AddDate(0, 0, 1), second}}
	case models.DistributionDate:
		day, err := time.ParseInLocation(models.DateLayout, r.Date, now.Location())
		if err != nil {
			return nil, fmt.Errorf("invalid entry date %q: %w", r.Date, err)
		}
		bookings = []booking{{day, minutes}}
	}

	description := validation.SanitizeText(r.Description)
	items := make([]models.WorkItem, 0, len(bookings))
	for _, b := range bookings {
		if b.minutes <= 0 {
			continue
		}
		meta := models.Metadata{
			models.MetaClient:   validation.SanitizeText(r.Client),
			models.MetaProject:  validation.SanitizeText(r.Project),
			models.MetaActivity: validation.SanitizeText(r.Activity),
		}
		for _, tag := range r.Tags {
			meta.AddTag(validation.SanitizeText(tag))
		}
		items = append(items, models.WorkItem{
			ID:                   IDPrefix + uuid.NewSHA1(ref.ID, []byte(b.day.Format(models.DateLayout))).String(),
			Title:                description,
			OriginDate:           b.day,
			Source:               models.SourceManual,
			FixedDurationMinutes: models.IntPtr(b.minutes),
			Metadata:             meta,
			QueuedAt:             now,
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("invalid entry request: %.2f hours rounds to zero minutes", r.Hours)
	}
	return items, nil
}
