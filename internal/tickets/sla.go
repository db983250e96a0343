package tickets

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	// WarningThreshold is the share of the resolution window after which an
	// open ticket is reported.
	WarningThreshold = 0.7
	// DueSoonWindow is how close to its deadline an open ticket must be to be
	// reported as due soon.
	DueSoonWindow = 60 * time.Minute
)

// SLAState classifies an open ticket against its resolution deadline.
type SLAState string

const (
	SLAStateWarning SLAState = "warning"
	SLAStateDueSoon SLAState = "due_soon"
	SLAStateOverdue SLAState = "overdue"
)

// SLATicket is one open ticket with a resolution deadline.
type SLATicket struct {
	ID         int64
	Title      string
	Technician string
	CreatedAt  time.Time
	DueAt      time.Time
	// ElapsedPercent is the consumed share of the resolution window, 0..100+.
	ElapsedPercent float64
	// Remaining is negative once the ticket is overdue.
	Remaining time.Duration
	State     SLAState
}

// openGroupTicketsQuery selects unsolved tickets with a deadline assigned to
// members of one support group. Status 6 is "closed".
const openGroupTicketsQuery = `
	SELECT
		gt.id,
		gt.name,
		gt.date,
		gt.time_to_resolve,
		CONCAT(gu.realname, ' ', gu.firstname)
	FROM glpi_tickets gt
	INNER JOIN glpi_tickets_users gtu ON gt.id = gtu.tickets_id AND gtu.type = 2
	INNER JOIN glpi_users gu ON gtu.users_id = gu.id
	INNER JOIN glpi_groups_users ggu ON gu.id = ggu.users_id
	WHERE gt.is_deleted = 0
		AND gt.status NOT IN (6)
		AND gt.time_to_resolve IS NOT NULL
		AND gt.solvedate IS NULL
		AND ggu.groups_id = ?
	ORDER BY gt.time_to_resolve ASC`

// FetchSLAWarnings returns open tickets that consumed at least 70% of their
// resolution window and are not yet due, soonest deadline first.
func (s *Source) FetchSLAWarnings(ctx context.Context) ([]SLATicket, error) {
	all, err := s.fetchOpenGroupTickets(ctx)
	if err != nil {
		return nil, err
	}
	out := []SLATicket{}
	for _, t := range all {
		if t.Remaining > 0 && t.ElapsedPercent >= WarningThreshold*100 {
			t.State = SLAStateWarning
			out = append(out, t)
		}
	}
	return out, nil
}

// FetchSLABreaches returns overdue tickets followed by tickets due within
// the next hour.
func (s *Source) FetchSLABreaches(ctx context.Context) ([]SLATicket, error) {
	all, err := s.fetchOpenGroupTickets(ctx)
	if err != nil {
		return nil, err
	}
	var overdue, dueSoon []SLATicket
	for _, t := range all {
		switch {
		case t.Remaining < 0:
			t.State = SLAStateOverdue
			overdue = append(overdue, t)
		case t.Remaining <= DueSoonWindow:
			t.State = SLAStateDueSoon
			dueSoon = append(dueSoon, t)
		}
	}
	return append(append([]SLATicket{}, overdue...), dueSoon...), nil
}

func (s *Source) fetchOpenGroupTickets(ctx context.Context) ([]SLATicket, error) {
	rows, err := s.db.QueryContext(ctx, openGroupTicketsQuery, s.cfg.SLAGroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open group tickets: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	now := s.now()
	var out []SLATicket
	for rows.Next() {
		var (
			t          SLATicket
			technician sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.CreatedAt, &t.DueAt, &technician); err != nil {
			return nil, fmt.Errorf("failed to scan SLA row: %w", err)
		}
		t.Technician = technician.String
		t.Remaining = t.DueAt.Sub(now)
		if window := t.DueAt.Sub(t.CreatedAt); window > 0 {
			t.ElapsedPercent = float64(now.Sub(t.CreatedAt)) * 100 / float64(window)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate SLA rows: %w", err)
	}
	return out, nil
}

// FormatWarningReport renders the 70% report as chat text.
func FormatWarningReport(tickets []SLATicket) string {
	var b strings.Builder
	b.WriteString("SLA report: tickets past 70% of their resolution time\n")
	if len(tickets) == 0 {
		b.WriteString("\nNo tickets in this condition.")
		return b.String()
	}
	fmt.Fprintf(&b, "\nTotal tickets: %d\n", len(tickets))
	for _, t := range tickets {
		fmt.Fprintf(&b, "\nTicket %d: %s\nTechnician: %s\nCreated: %s\nDue: %s\nElapsed: %.2f%%\nHours left: %.2fh\n---",
			t.ID, t.Title, t.Technician,
			t.CreatedAt.Format("2006-01-02 15:04"), t.DueAt.Format("2006-01-02 15:04"),
			t.ElapsedPercent, t.Remaining.Hours())
	}
	return b.String()
}

// FormatBreachReport renders the overdue / due-soon report as chat text.
func FormatBreachReport(tickets []SLATicket) string {
	var b strings.Builder
	b.WriteString("SLA report: tickets overdue or due within the hour\n")
	if len(tickets) == 0 {
		b.WriteString("\nNo tickets in this condition.")
		return b.String()
	}
	fmt.Fprintf(&b, "\nTotal tickets: %d\n", len(tickets))
	for _, t := range tickets {
		minutes := int(t.Remaining.Round(time.Minute).Minutes())
		status := fmt.Sprintf("due in %d minutes", minutes)
		if t.State == SLAStateOverdue {
			status = fmt.Sprintf("overdue by %d minutes", -minutes)
		}
		fmt.Fprintf(&b, "\nTicket %d: %s\nTechnician: %s\nCreated: %s\nDue: %s\nStatus: %s\n---",
			t.ID, t.Title, t.Technician,
			t.CreatedAt.Format("2006-01-02 15:04"), t.DueAt.Format("2006-01-02 15:04"),
			status)
	}
	return b.String()
}
