// Package allocation turns a day's work items into a conflict-free sequence
// of time slots inside a bounded workday.
package allocation

import (
	"errors"
	"fmt"
	"time"

	"github.com/benvon/timesheet-sync/internal/models"
)

// ErrInvalidPlan marks a configuration error. It is never retried.
var ErrInvalidPlan = errors.New("invalid allocation plan")

const (
	// DefaultSplitBlocks is the number of sub-blocks a long item is cut into
	DefaultSplitBlocks = 4
	// DefaultMinBlockMinutes is the smallest sub-block the splitter will produce
	DefaultMinBlockMinutes = 30
)

// SplitPolicy controls how one item's duration is cut into sub-blocks.
// TargetBlocks <= 1 disables splitting.
type SplitPolicy struct {
	TargetBlocks    int `json:"target_blocks"`
	MinBlockMinutes int `json:"min_block_minutes"`
}

// DefaultSplitPolicy returns the 4 x 30 minute policy.
func DefaultSplitPolicy() SplitPolicy {
	return SplitPolicy{TargetBlocks: DefaultSplitBlocks, MinBlockMinutes: DefaultMinBlockMinutes}
}

// Plan describes one calendar day to allocate.
type Plan struct {
	Date          time.Time
	TargetMinutes int
	Work          models.Window
	Lunch         models.Window
	Split         SplitPolicy
}

// Validate checks the window ordering and target.
func (p Plan) Validate() error {
	if p.Lunch.Start <= p.Work.Start && p.Lunch.End >= p.Work.End {
		return fmt.Errorf("%w: lunch window %s contains the work window %s", ErrInvalidPlan, p.Lunch, p.Work)
	}
	if p.Work.Start >= p.Lunch.Start {
		return fmt.Errorf("%w: work window must start before lunch (work %s, lunch %s)", ErrInvalidPlan, p.Work, p.Lunch)
	}
	if p.Lunch.Start >= p.Lunch.End {
		return fmt.Errorf("%w: lunch window %s is empty or inverted", ErrInvalidPlan, p.Lunch)
	}
	if p.TargetMinutes <= 0 {
		return fmt.Errorf("%w: target minutes must be positive, got %d", ErrInvalidPlan, p.TargetMinutes)
	}
	if p.Split.TargetBlocks > 1 && p.Split.MinBlockMinutes <= 0 {
		return fmt.Errorf("%w: minimum block size must be positive when splitting", ErrInvalidPlan)
	}
	return nil
}

// DefaultTarget is the working time of the work window once the lunch
// overlap is removed.
func DefaultTarget(work, lunch models.Window) int {
	total := work.Minutes()
	overlapStart := max(work.Start, lunch.Start)
	overlapEnd := min(work.End, lunch.End)
	if overlapEnd > overlapStart {
		total -= int(overlapEnd - overlapStart)
	}
	return total
}

// Allocate distributes the plan's target over items and lays the result out
// from the start of the work window, skipping the lunch window.
//
// Fixed-duration items keep their duration. The remainder of the target is
// shared by the other items with floor division, the first items absorbing
// the remainder one minute each. Items are laid out in input order.
// Work that would run past midnight fails with ErrInvalidPlan.
func Allocate(p Plan, items []models.WorkItem) ([]models.ScheduleSlot, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []models.ScheduleSlot{}, nil
	}

	durations := Durations(p.TargetMinutes, items)
	slots := make([]models.ScheduleSlot, 0, len(items))
	cursor := p.Work.Start

	for i := range items {
		item := &items[i]
		if durations[i] <= 0 {
			continue
		}

		blocks := SplitMinutes(durations[i], p.Split)
		for b, minutes := range blocks {
			if minutes <= 0 {
				continue
			}
			title := item.Title
			if len(blocks) > 1 {
				title = fmt.Sprintf("%s (%d/%d)", item.Title, b+1, len(blocks))
			}

			var pieces []models.Window
			pieces, cursor = place(cursor, minutes, p.Lunch)
			if cursor > models.MinutesPerDay {
				return nil, fmt.Errorf("%w: %d minutes of work starting at %s run past midnight",
					ErrInvalidPlan, sumMinutes(durations), p.Work.Start)
			}
			for _, piece := range pieces {
				slots = append(slots, models.ScheduleSlot{
					WorkItemID:      item.ID,
					Title:           title,
					Start:           piece.Start.On(p.Date),
					End:             piece.End.On(p.Date),
					DurationMinutes: piece.Minutes(),
					Block:           b + 1,
					Blocks:          len(blocks),
					SourceItem:      item,
				})
			}
		}
	}

	return slots, nil
}

// Durations returns the minutes assigned to each item, index-aligned with items.
// Auto items receive zero when fixed items consume the whole target.
func Durations(targetMinutes int, items []models.WorkItem) []int {
	durations := make([]int, len(items))
	fixedTotal := 0
	autoCount := 0
	for i, item := range items {
		if item.IsFixed() {
			durations[i] = max(0, *item.FixedDurationMinutes)
			fixedTotal += durations[i]
			continue
		}
		autoCount++
	}
	if autoCount == 0 {
		return durations
	}

	shares := distribute(max(0, targetMinutes-fixedTotal), autoCount)
	k := 0
	for i, item := range items {
		if item.IsFixed() {
			continue
		}
		durations[i] = shares[k]
		k++
	}
	return durations
}

func sumMinutes(durations []int) int {
	total := 0
	for _, d := range durations {
		total += d
	}
	return total
}

// SplitMinutes cuts a duration into sub-blocks. The block count starts at the
// policy target and is reduced until every block is at least the minimum size.
func SplitMinutes(minutes int, policy SplitPolicy) []int {
	if policy.TargetBlocks <= 1 || policy.MinBlockMinutes <= 0 || minutes <= policy.MinBlockMinutes {
		return []int{minutes}
	}
	blocks := policy.TargetBlocks
	if minutes/blocks < policy.MinBlockMinutes {
		blocks = max(1, minutes/policy.MinBlockMinutes)
	}
	return distribute(minutes, blocks)
}

// distribute splits total into n integer parts; the first total%n parts get
// one extra minute so the parts always sum to total.
func distribute(total, n int) []int {
	parts := make([]int, n)
	if n == 0 {
		return parts
	}
	base, rem := total/n, total%n
	for i := range parts {
		parts[i] = base
		if i < rem {
			parts[i]++
		}
	}
	return parts
}

// place lays a block of the given length at cursor. A block that straddles
// the lunch start is split around the lunch window. It returns the emitted
// intervals and the advanced cursor.
func place(cursor models.TimeOfDay, minutes int, lunch models.Window) ([]models.Window, models.TimeOfDay) {
	c := cursor
	if lunch.Contains(c) {
		c = lunch.End
	}
	end := c + models.TimeOfDay(minutes)

	if c < lunch.Start && lunch.Start < end {
		rest := models.TimeOfDay(minutes) - (lunch.Start - c)
		resumed := lunch.End + rest
		return []models.Window{
			{Start: c, End: lunch.Start},
			{Start: lunch.End, End: resumed},
		}, resumed
	}

	return []models.Window{{Start: c, End: end}}, end
}
