package workers

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benvon/timesheet-sync/internal/allocation"
	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/benvon/timesheet-sync/internal/store"
)

// memStore is an in-memory QueueStore that records the order of ledger and
// queue mutations.
type memStore struct {
	mu        sync.Mutex
	pending   map[string]models.WorkItem
	order     []string
	processed map[string]bool
	state     map[string][]byte
	ops       []string

	listErr error
	markErr error
	// failAddAt makes the n-th AddPending call fail once.
	failAddAt int
	adds      int
}

func newMemStore(items ...models.WorkItem) *memStore {
	s := &memStore{
		pending:   make(map[string]models.WorkItem),
		processed: make(map[string]bool),
		state:     make(map[string][]byte),
	}
	for _, item := range items {
		_ = s.AddPending(context.Background(), item)
	}
	s.ops = nil
	s.adds = 0
	return s
}

func (s *memStore) AddPending(_ context.Context, item models.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adds++
	if s.failAddAt > 0 && s.adds == s.failAddAt {
		return errors.New("redis: i/o timeout")
	}
	if _, ok := s.pending[item.ID]; ok {
		return nil
	}
	s.pending[item.ID] = item
	s.order = append(s.order, item.ID)
	s.ops = append(s.ops, "add:"+item.ID)
	return nil
}

func (s *memStore) ListPending(context.Context) ([]models.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	items := make([]models.WorkItem, 0, len(s.order))
	for _, id := range s.order {
		items = append(items, s.pending[id])
	}
	return items, nil
}

func (s *memStore) RemovePending(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.ops = append(s.ops, "remove:"+id)
	return nil
}

func (s *memStore) MarkProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.processed[id] = true
	s.ops = append(s.ops, "mark:"+id)
	return nil
}

func (s *memStore) IsProcessed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[id], nil
}

func (s *memStore) SaveState(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = data
	return nil
}

func (s *memStore) LoadState(_ context.Context, key string, dest any) error {
	s.mu.Lock()
	data, ok := s.state[key]
	s.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}
	return json.Unmarshal(data, dest)
}

func (s *memStore) Ping(context.Context) error { return nil }
func (s *memStore) Close() error               { return nil }

func (s *memStore) pendingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]string(nil), s.order...)
	sort.Strings(ids)
	return ids
}

func (s *memStore) isProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[id]
}

// opIndex returns the position of op in the mutation log, or -1.
func (s *memStore) opIndex(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.ops {
		if o == op {
			return i
		}
	}
	return -1
}

type fakeSource struct {
	today   func(ctx context.Context) ([]models.WorkItem, error)
	rangeFn func(ctx context.Context, days int) ([]models.WorkItem, error)
}

func (f *fakeSource) FetchClosedItemsToday(ctx context.Context) ([]models.WorkItem, error) {
	if f.today == nil {
		return nil, nil
	}
	return f.today(ctx)
}

func (f *fakeSource) FetchClosedItemsRange(ctx context.Context, days int) ([]models.WorkItem, error) {
	if f.rangeFn == nil {
		return nil, nil
	}
	return f.rangeFn(ctx, days)
}

// fakeChannel answers Submit through submitFn and counts calls.
type fakeChannel struct {
	mu       sync.Mutex
	openFn   func(ctx context.Context) error
	submitFn func(slot models.ScheduleSlot, attempt int) (bool, error)
	opens    int
	closes   int
	attempts map[string]int
	slots    []models.ScheduleSlot
}

func (f *fakeChannel) Open(ctx context.Context) error {
	f.mu.Lock()
	f.opens++
	fn := f.openFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return nil
}

func (f *fakeChannel) Submit(_ context.Context, slot models.ScheduleSlot) (bool, error) {
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[slot.WorkItemID]++
	attempt := f.attempts[slot.WorkItemID]
	f.slots = append(f.slots, slot)
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		return true, nil
	}
	return fn(slot, attempt)
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeChannel) attemptsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[id]
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}

func (n *recordingNotifier) count(substr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.messages {
		if strings.Contains(m, substr) {
			c++
		}
	}
	return c
}

var errChannelDown = errors.New("channel down")

// thursday is 2026-10-15, a Thursday in ISO week 42.
var thursday = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)

func externalItem(id, title string, day time.Time) models.WorkItem {
	return models.WorkItem{
		ID:         id,
		Title:      title,
		OriginDate: time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
		Source:     models.SourceExternal,
		Metadata:   models.Metadata{},
	}
}

func manualItem(id, title string, day time.Time, minutes int) models.WorkItem {
	item := externalItem(id, title, day)
	item.Source = models.SourceManual
	item.FixedDurationMinutes = models.IntPtr(minutes)
	return item
}

func testPlanSettings() PlanSettings {
	return PlanSettings{
		Work:     models.Window{Start: models.MustTimeOfDay("07:30"), End: models.MustTimeOfDay("16:30")},
		Lunch:    models.Window{Start: models.MustTimeOfDay("11:30"), End: models.MustTimeOfDay("12:30")},
		Split:    allocation.SplitPolicy{},
		Location: time.UTC,
	}
}

func newTestProcessor(st *memStore, src RecordSource, ch *fakeChannel, n *recordingNotifier, plan PlanSettings) *Processor {
	return NewProcessor(st, src, ch, n, plan, Options{
		Now: func() time.Time { return thursday },
	})
}
