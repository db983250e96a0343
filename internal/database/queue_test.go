package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/benvon/timesheet-sync/internal/store"
)

var fixedNow = time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC)

func newMockRepo(t *testing.T) (*QueueRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewQueueRepository(&DB{DB: sqlDB})
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func TestQueueRepository_AddPending(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)

	item := models.WorkItem{
		ID:                   "manual-1",
		Title:                "Site visit",
		OriginDate:           time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC),
		Source:               models.SourceManual,
		FixedDurationMinutes: models.IntPtr(90),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pending_tickets")).
		WithArgs("manual-1", "Site visit", "2026-10-14", "manual",
			sql.NullInt64{Int64: 90, Valid: true}, []byte("{}"), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.AddPending(context.Background(), item); err != nil {
		t.Fatalf("AddPending: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestQueueRepository_ListPending(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)

	origin := time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "title", "origin_date", "source", "fixed_duration_minutes", "metadata", "queued_at"}).
		AddRow("101", "Printer jam", origin, "external-system", nil, []byte(`{"client":"ACME","entities_id":7}`), fixedNow).
		AddRow("manual-2", "Training", origin, "manual", int64(60), []byte(`{}`), fixedNow.Add(time.Minute))

	mock.ExpectQuery(regexp.QuoteMeta("FROM pending_tickets")).WillReturnRows(rows)

	items, err := repo.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].IsFixed() || items[0].Source != models.SourceExternal {
		t.Errorf("Expected external auto item first, got %+v", items[0])
	}
	if items[0].Metadata.GetString(models.MetaEntityID) != "7" {
		t.Errorf("Expected entity id 7, got %q", items[0].Metadata.GetString(models.MetaEntityID))
	}
	if !items[1].IsFixed() || *items[1].FixedDurationMinutes != 60 {
		t.Errorf("Expected fixed 60 minute manual item, got %+v", items[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestQueueRepository_ListPendingQueryError(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM pending_tickets")).WillReturnError(errors.New("connection reset"))

	if _, err := repo.ListPending(context.Background()); err == nil {
		t.Error("Expected error from ListPending")
	}
}

func TestQueueRepository_Ledger(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_tickets")).
		WithArgs("101", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM pending_tickets")).
		WithArgs("101").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("101").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := repo.MarkProcessed(ctx, "101"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := repo.RemovePending(ctx, "101"); err != nil {
		t.Fatalf("RemovePending: %v", err)
	}
	ok, err := repo.IsProcessed(ctx, "101")
	if err != nil || !ok {
		t.Fatalf("IsProcessed = %v, %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestQueueRepository_State(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO app_state")).
		WithArgs(store.StateLastIngest, []byte(`{"queued":2}`), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM app_state")).
		WithArgs(store.StateLastIngest).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"queued":2}`)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM app_state")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if err := repo.SaveState(ctx, store.StateLastIngest, map[string]int{"queued": 2}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	var got map[string]int
	if err := repo.LoadState(ctx, store.StateLastIngest, &got); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got["queued"] != 2 {
		t.Errorf("LoadState = %v", got)
	}

	if err := repo.LoadState(ctx, "missing", &got); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected store.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDB_Migrate(t *testing.T) {
	t.Parallel()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = sqlDB.Close() }()

	for range migrations {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	db := &DB{DB: sqlDB}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
