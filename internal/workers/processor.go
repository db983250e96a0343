// Package workers runs the ingestion and batch processing state machine and
// the background triggers that drive it.
package workers

import (
	"context"
	"errors"
	"time"

	"github.com/benvon/timesheet-sync/internal/allocation"
	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/benvon/timesheet-sync/internal/notify"
	"github.com/benvon/timesheet-sync/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when an ingestion or processing run is already active.
var ErrRunInProgress = errors.New("another run is in progress")

// DefaultMaxFailures is the per-item submission attempt limit within one run.
const DefaultMaxFailures = 3

// commitTimeout bounds ledger writes that run after the caller's context is done.
const commitTimeout = 30 * time.Second

// RecordSource reads closed work items from the ticket system.
type RecordSource interface {
	FetchClosedItemsToday(ctx context.Context) ([]models.WorkItem, error)
	FetchClosedItemsRange(ctx context.Context, days int) ([]models.WorkItem, error)
}

// Channel is the timesheet submission channel. Submit returns ok=false with a
// nil error for a rejected slot; a non-nil error means the channel is broken.
type Channel interface {
	Open(ctx context.Context) error
	Submit(ctx context.Context, slot models.ScheduleSlot) (bool, error)
	Close() error
}

// Enricher fills timesheet metadata on ingested items.
type Enricher interface {
	Enrich(item *models.WorkItem)
}

// PlanSettings describes the workday every date is allocated against.
type PlanSettings struct {
	Work          models.Window
	Lunch         models.Window
	TargetMinutes int
	Split         allocation.SplitPolicy
	Location      *time.Location
}

// PlanFor builds the allocation plan for one date key (YYYY-MM-DD).
func (s PlanSettings) PlanFor(dateKey string) (allocation.Plan, error) {
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation(models.DateLayout, dateKey, loc)
	if err != nil {
		return allocation.Plan{}, err
	}
	target := s.TargetMinutes
	if target <= 0 {
		target = allocation.DefaultTarget(s.Work, s.Lunch)
	}
	return allocation.Plan{
		Date:          day,
		TargetMinutes: target,
		Work:          s.Work,
		Lunch:         s.Lunch,
		Split:         s.Split,
	}, nil
}

// Options holds optional Processor collaborators.
type Options struct {
	MaxFailures int
	Enricher    Enricher
	Now         func() time.Time
	Logger      *zap.Logger
}

// Processor owns the run lock and executes ingestion and batch processing
// against the queue store.
type Processor struct {
	store       store.QueueStore
	source      RecordSource
	channel     Channel
	notifier    notify.Notifier
	enricher    Enricher
	plan        PlanSettings
	maxFailures int
	now         func() time.Time
	logger      *zap.Logger
	tracer      trace.Tracer
	lock        runLock
}

// NewProcessor creates a processor. source and channel may be nil for
// processes that only queue manual entries.
func NewProcessor(st store.QueueStore, source RecordSource, channel Channel, notifier notify.Notifier, plan PlanSettings, opts Options) *Processor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Processor{
		store:       st,
		source:      source,
		channel:     channel,
		notifier:    notifier,
		enricher:    opts.Enricher,
		plan:        plan,
		maxFailures: opts.MaxFailures,
		now:         opts.Now,
		logger:      opts.Logger,
		tracer:      otel.Tracer("github.com/benvon/timesheet-sync/internal/workers"),
		lock:        newRunLock(),
	}
}

// Plan allocates the pending items of one date without submitting anything.
func (p *Processor) Plan(ctx context.Context, dateKey string) ([]models.ScheduleSlot, error) {
	pending, err := p.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	var items []models.WorkItem
	for _, item := range pending {
		if item.DateKey() == dateKey {
			items = append(items, item)
		}
	}
	plan, err := p.plan.PlanFor(dateKey)
	if err != nil {
		return nil, err
	}
	return allocation.Allocate(plan, items)
}

func (p *Processor) localNow() time.Time {
	if p.plan.Location != nil {
		return p.now().In(p.plan.Location)
	}
	return p.now()
}

// notify pushes a message even when ctx is already cancelled.
func (p *Processor) notify(ctx context.Context, text string) {
	p.notifier.Notify(context.WithoutCancel(ctx), text)
}

// runLock is a one-slot semaphore. Scheduled and forced runs use tryAcquire;
// manual entry intake waits with acquire.
type runLock chan struct{}

func newRunLock() runLock {
	return make(runLock, 1)
}

func (l runLock) tryAcquire() bool {
	select {
	case l <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l runLock) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l runLock) release() {
	<-l
}
