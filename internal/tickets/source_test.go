package tickets

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/benvon/timesheet-sync/internal/models"
)

var testNow = time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)

func newMockSource(t *testing.T) (*Source, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := NewSourceFromDB(db, Config{UserEmail: "tech@example.com", SLAGroupID: 11, Location: time.UTC}, nil)
	s.now = func() time.Time { return testNow }
	return s, mock
}

var closedColumns = []string{"id", "name", "solvedate", "entities_id", "entity_name", "completename", "technician"}

func TestSource_FetchClosedItemsToday(t *testing.T) {
	t.Parallel()
	s, mock := newMockSource(t)

	start := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(closedColumns).
		AddRow(int64(4711), "Printer offline", testNow.Add(-2*time.Hour), int64(12), "Hospital", "Root > Hospital", "Doe John").
		AddRow(int64(4712), "VPN reset", testNow.Add(-time.Hour), int64(3), nil, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM glpi_tickets gt")).
		WithArgs(start, start.AddDate(0, 0, 1), "tech@example.com").
		WillReturnRows(rows)

	items, err := s.FetchClosedItemsToday(context.Background())
	if err != nil {
		t.Fatalf("FetchClosedItemsToday: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}

	first := items[0]
	if first.ID != "4711" || first.Title != "Printer offline" || first.Source != models.SourceExternal {
		t.Errorf("unexpected first item: %+v", first)
	}
	if first.DateKey() != "2026-10-14" {
		t.Errorf("Expected origin date 2026-10-14, got %s", first.DateKey())
	}
	if first.Metadata.GetString(models.MetaEntityID) != "12" {
		t.Errorf("Expected entity id 12, got %q", first.Metadata.GetString(models.MetaEntityID))
	}
	if first.Metadata.GetString(models.MetaEntityFullname) != "Root > Hospital" {
		t.Errorf("Expected entity fullname, got %q", first.Metadata.GetString(models.MetaEntityFullname))
	}
	if items[1].Metadata.Has(models.MetaEntityName) {
		t.Error("Expected NULL entity name to be omitted")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSource_FetchClosedItemsRange(t *testing.T) {
	t.Parallel()
	s, mock := newMockSource(t)

	today := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM glpi_tickets gt")).
		WithArgs(today.AddDate(0, 0, -7), today.AddDate(0, 0, 1), "tech@example.com").
		WillReturnRows(sqlmock.NewRows(closedColumns))

	items, err := s.FetchClosedItemsRange(context.Background(), 7)
	if err != nil {
		t.Fatalf("FetchClosedItemsRange: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected no items, got %d", len(items))
	}

	if _, err := s.FetchClosedItemsRange(context.Background(), -1); err == nil {
		t.Error("Expected error for negative days")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSource_FetchClosedItemsQueryError(t *testing.T) {
	t.Parallel()
	s, mock := newMockSource(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM glpi_tickets gt")).WillReturnError(errors.New("server has gone away"))

	if _, err := s.FetchClosedItemsToday(context.Background()); err == nil {
		t.Error("Expected query error to surface")
	}
}

var slaColumns = []string{"id", "name", "date", "time_to_resolve", "technician"}

func slaRows() *sqlmock.Rows {
	return sqlmock.NewRows(slaColumns).
		// overdue by 30 minutes
		AddRow(int64(1), "Overdue", testNow.Add(-10*time.Hour), testNow.Add(-30*time.Minute), "Doe John").
		// 80% elapsed, 2h left
		AddRow(int64(2), "Warning", testNow.Add(-8*time.Hour), testNow.Add(2*time.Hour), "Roe Jane").
		// 40 minutes left, 90%+ elapsed
		AddRow(int64(3), "Due soon", testNow.Add(-10*time.Hour), testNow.Add(40*time.Minute), nil).
		// 10% elapsed
		AddRow(int64(4), "Fresh", testNow.Add(-time.Hour), testNow.Add(9*time.Hour), "Doe John")
}

func TestSource_FetchSLAWarnings(t *testing.T) {
	t.Parallel()
	s, mock := newMockSource(t)

	mock.ExpectQuery(regexp.QuoteMeta("ggu.groups_id = ?")).WithArgs(11).WillReturnRows(slaRows())

	got, err := s.FetchSLAWarnings(context.Background())
	if err != nil {
		t.Fatalf("FetchSLAWarnings: %v", err)
	}
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Fatalf("Expected tickets 2 and 3, got %+v", got)
	}
	if got[0].ElapsedPercent < 79.9 || got[0].ElapsedPercent > 80.1 {
		t.Errorf("Expected 80%% elapsed, got %.2f", got[0].ElapsedPercent)
	}
	if got[0].State != SLAStateWarning {
		t.Errorf("Expected warning state, got %s", got[0].State)
	}
}

func TestSource_FetchSLABreaches(t *testing.T) {
	t.Parallel()
	s, mock := newMockSource(t)

	mock.ExpectQuery(regexp.QuoteMeta("ggu.groups_id = ?")).WithArgs(11).WillReturnRows(slaRows())

	got, err := s.FetchSLABreaches(context.Background())
	if err != nil {
		t.Fatalf("FetchSLABreaches: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 tickets, got %+v", got)
	}
	if got[0].ID != 1 || got[0].State != SLAStateOverdue {
		t.Errorf("Expected overdue ticket first, got %+v", got[0])
	}
	if got[1].ID != 3 || got[1].State != SLAStateDueSoon {
		t.Errorf("Expected due-soon ticket second, got %+v", got[1])
	}

	report := FormatBreachReport(got)
	if !strings.Contains(report, "overdue by 30 minutes") || !strings.Contains(report, "due in 40 minutes") {
		t.Errorf("unexpected report:\n%s", report)
	}
}

func TestFormatReports_Empty(t *testing.T) {
	t.Parallel()

	if got := FormatWarningReport(nil); !strings.Contains(got, "No tickets") {
		t.Errorf("FormatWarningReport(nil) = %q", got)
	}
	if got := FormatBreachReport(nil); !strings.Contains(got, "No tickets") {
		t.Errorf("FormatBreachReport(nil) = %q", got)
	}
}

func TestConfig_DSN(t *testing.T) {
	t.Parallel()

	dsn := Config{Host: "glpi.local", Port: 3306, User: "reader", Password: "secret", Name: "glpi", Location: time.UTC}.DSN()
	for _, want := range []string{"reader:secret@tcp(glpi.local:3306)/glpi", "parseTime=true"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
}
