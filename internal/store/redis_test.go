package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benvon/timesheet-sync/internal/models"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore("redis://"+mr.Addr(), "test:")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func item(id string, queuedAt time.Time) models.WorkItem {
	return models.WorkItem{
		ID:         id,
		Title:      "Ticket " + id,
		OriginDate: time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC),
		Source:     models.SourceExternal,
		Metadata:   models.Metadata{models.MetaClient: "ACME"},
		QueuedAt:   queuedAt,
	}
}

func TestRedisStore_PendingLifecycle(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"b", "a", "c"} {
		if err := s.AddPending(ctx, item(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("AddPending(%s): %v", id, err)
		}
	}
	// re-adding keeps the original queue position
	if err := s.AddPending(ctx, item("b", base.Add(time.Hour))); err != nil {
		t.Fatalf("AddPending duplicate: %v", err)
	}

	items, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	got := make([]string, len(items))
	for i, it := range items {
		got[i] = it.ID
	}
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("ListPending ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ListPending ids = %v, want %v", got, want)
		}
	}
	if items[0].Metadata.GetString(models.MetaClient) != "ACME" {
		t.Errorf("Expected metadata to round trip, got %v", items[0].Metadata)
	}
	if items[0].DateKey() != "2026-10-14" {
		t.Errorf("Expected origin date to round trip, got %s", items[0].DateKey())
	}

	if err := s.RemovePending(ctx, "a"); err != nil {
		t.Fatalf("RemovePending: %v", err)
	}
	items, err = s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(items) != 2 || items[0].ID != "b" || items[1].ID != "c" {
		t.Errorf("Expected [b c] after removal, got %v", items)
	}
}

func TestRedisStore_ListPendingEmpty(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	items, err := s.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", items)
	}
}

func TestRedisStore_Ledger(t *testing.T) {
	t.Parallel()
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.IsProcessed(ctx, "42")
	if err != nil || ok {
		t.Fatalf("IsProcessed before mark = %v, %v", ok, err)
	}
	if err := s.MarkProcessed(ctx, "42"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := s.MarkProcessed(ctx, "42"); err != nil {
		t.Fatalf("MarkProcessed twice: %v", err)
	}
	ok, err = s.IsProcessed(ctx, "42")
	if err != nil || !ok {
		t.Fatalf("IsProcessed after mark = %v, %v", ok, err)
	}

	if !mr.Exists("test:processed") {
		t.Error("Expected ledger under the configured prefix")
	}
}

func TestRedisStore_State(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	type summary struct {
		Processed int `json:"processed"`
		Remaining int `json:"remaining"`
	}

	var got summary
	if err := s.LoadState(ctx, StateLastBatch, &got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if err := s.SaveState(ctx, StateLastBatch, summary{Processed: 3, Remaining: 1}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := s.LoadState(ctx, StateLastBatch, &got); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got.Processed != 3 || got.Remaining != 1 {
		t.Errorf("LoadState = %+v", got)
	}
}

func TestRedisStore_Unreachable(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisStore("redis://"+addr, ""); err == nil {
		t.Error("Expected connection error for a stopped server")
	}
	if _, err := NewRedisStore("://bad", ""); err == nil {
		t.Error("Expected parse error for a malformed URL")
	}
}
