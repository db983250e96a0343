package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler fires the periodic ingestion, processing, backlog and SLA runs.
// Overlapping firings of the same job are skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	ctx     context.Context
	entries map[string]cron.EntryID
}

// NewScheduler creates a scheduler evaluating cron specs in loc.
func NewScheduler(loc *time.Location, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
	}
}

// Register adds a job under a standard five-field cron spec. An empty spec
// disables the job. Register must be called before Start.
func (s *Scheduler) Register(name, spec string, run func(ctx context.Context) error) error {
	if spec == "" {
		s.logger.Info("schedule_disabled", zap.String("job", name))
		return nil
	}
	id, err := s.cron.AddFunc(spec, s.wrap(name, run))
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	s.entries[name] = id
	s.logger.Info("schedule_registered", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start runs the scheduler in the background; jobs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop prevents new firings and returns a context done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next returns the next firing time of a registered job, or the zero time.
func (s *Scheduler) Next(name string) time.Time {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) wrap(name string, run func(ctx context.Context) error) func() {
	return func() {
		start := time.Now()
		err := run(s.ctx)
		switch {
		case err == nil:
			s.logger.Info("scheduled_run_completed", zap.String("job", name), zap.Duration("duration", time.Since(start)))
		case errors.Is(err, ErrRunInProgress):
			s.logger.Info("scheduled_run_skipped", zap.String("job", name), zap.String("reason", err.Error()))
		default:
			s.logger.Error("scheduled_run_failed", zap.String("job", name), zap.Error(err))
		}
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw("cron_"+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw("cron_"+msg, append(keysAndValues, "error", err)...)
}
