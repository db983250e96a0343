package entries

import (
	"strings"
	"testing"
	"time"

	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/google/uuid"
)

var now = time.Date(2026, 10, 14, 17, 45, 0, 0, time.UTC)

func baseRequest(d models.Distribution, hours float64) Request {
	return Request{
		Description:  "  Onsite visit\x00 ",
		Client:       "ACME",
		Project:      "Support",
		Activity:     "Field work",
		Tags:         []string{"onsite", "onsite", "hq"},
		Hours:        hours,
		Distribution: d,
	}
}

func TestRequest_WorkItems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		req       Request
		wantDates []string
		wantMins  []int
	}{
		{
			name:      "today",
			req:       baseRequest(models.DistributionToday, 1.5),
			wantDates: []string{"2026-10-14"},
			wantMins:  []int{90},
		},
		{
			name:      "tomorrow",
			req:       baseRequest(models.DistributionTomorrow, 2),
			wantDates: []string{"2026-10-15"},
			wantMins:  []int{120},
		},
		{
			name:      "split with odd minutes",
			req:       baseRequest(models.DistributionSplit, 1.25),
			wantDates: []string{"2026-10-14", "2026-10-15"},
			wantMins:  []int{38, 37},
		},
		{
			name: "explicit date",
			req: func() Request {
				r := baseRequest(models.DistributionDate, 0.5)
				r.Date = "2026-10-09"
				return r
			}(),
			wantDates: []string{"2026-10-09"},
			wantMins:  []int{30},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			items, err := tt.req.WorkItems(now, Ref{})
			if err != nil {
				t.Fatalf("WorkItems: %v", err)
			}
			if len(items) != len(tt.wantDates) {
				t.Fatalf("Expected %d items, got %d", len(tt.wantDates), len(items))
			}
			for i, item := range items {
				if item.DateKey() != tt.wantDates[i] {
					t.Errorf("item %d date = %s, want %s", i, item.DateKey(), tt.wantDates[i])
				}
				if *item.FixedDurationMinutes != tt.wantMins[i] {
					t.Errorf("item %d minutes = %d, want %d", i, *item.FixedDurationMinutes, tt.wantMins[i])
				}
				if err := item.Validate(); err != nil {
					t.Errorf("item %d invalid: %v", i, err)
				}
				if !strings.HasPrefix(item.ID, IDPrefix) {
					t.Errorf("item %d id %q lacks prefix", i, item.ID)
				}
				if item.Title != "Onsite visit" {
					t.Errorf("item %d title = %q", i, item.Title)
				}
				if tags := item.Metadata.Tags(); len(tags) != 2 {
					t.Errorf("item %d tags = %v", i, tags)
				}
			}
			if len(items) == 2 && items[0].ID == items[1].ID {
				t.Error("split items must have distinct ids")
			}
		})
	}
}

func TestRequest_WorkItemsRef(t *testing.T) {
	t.Parallel()

	req := baseRequest(models.DistributionSplit, 2)
	ref := Ref{ID: uuid.New(), At: now}

	first, err := req.WorkItems(now, ref)
	if err != nil {
		t.Fatalf("WorkItems: %v", err)
	}
	// A replay the next morning resolves to the same items.
	replay, err := req.WorkItems(now.Add(15*time.Hour), ref)
	if err != nil {
		t.Fatalf("WorkItems: %v", err)
	}
	if len(first) != 2 || len(replay) != 2 {
		t.Fatalf("Expected 2 items each, got %d and %d", len(first), len(replay))
	}
	for i := range first {
		if first[i].ID != replay[i].ID {
			t.Errorf("item %d id changed on replay: %s != %s", i, first[i].ID, replay[i].ID)
		}
		if first[i].DateKey() != replay[i].DateKey() {
			t.Errorf("item %d date changed on replay: %s != %s", i, first[i].DateKey(), replay[i].DateKey())
		}
	}

	other, err := req.WorkItems(now, Ref{ID: uuid.New(), At: now})
	if err != nil {
		t.Fatalf("WorkItems: %v", err)
	}
	if other[0].ID == first[0].ID {
		t.Error("distinct refs must produce distinct ids")
	}

	unkeyed, err := req.WorkItems(now, Ref{})
	if err != nil {
		t.Fatalf("WorkItems: %v", err)
	}
	again, err := req.WorkItems(now, Ref{})
	if err != nil {
		t.Fatalf("WorkItems: %v", err)
	}
	if unkeyed[0].ID == again[0].ID {
		t.Error("requests without a ref must get fresh ids")
	}
}

func TestRequest_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mut  func(*Request)
	}{
		{name: "zero hours", mut: func(r *Request) { r.Hours = 0 }},
		{name: "too many hours", mut: func(r *Request) { r.Hours = 25 }},
		{name: "missing project", mut: func(r *Request) { r.Project = "" }},
		{name: "unknown distribution", mut: func(r *Request) { r.Distribution = "weekly" }},
		{name: "date distribution without date", mut: func(r *Request) { r.Distribution = models.DistributionDate }},
		{name: "malformed date", mut: func(r *Request) { r.Distribution = models.DistributionDate; r.Date = "14/10/2026" }},
		{name: "rounds to zero", mut: func(r *Request) { r.Hours = 0.001 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := baseRequest(models.DistributionToday, 1)
			tt.mut(&req)
			if _, err := req.WorkItems(now, Ref{}); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
