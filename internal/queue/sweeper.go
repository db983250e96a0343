package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// sweepTimeout bounds one purge of the dead-letter queue.
const sweepTimeout = 2 * time.Minute

// DeadLetterSweeper discards intake jobs that have sat in the dead-letter
// queue for longer than the retention period. It sweeps once at start and
// then on every interval.
type DeadLetterSweeper struct {
	purger    DLQPurger
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger

	// OnPurged is called after a sweep that discarded at least one job.
	OnPurged func(ctx context.Context, discarded int, retention time.Duration)
}

// NewDeadLetterSweeper creates a sweeper over purger.
func NewDeadLetterSweeper(purger DLQPurger, interval, retention time.Duration, logger *zap.Logger) *DeadLetterSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeadLetterSweeper{purger: purger, interval: interval, retention: retention, logger: logger}
}

// Run sweeps until ctx is cancelled and returns ctx.Err().
func (s *DeadLetterSweeper) Run(ctx context.Context) error {
	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *DeadLetterSweeper) sweepAndLog(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("dead_letter_sweep_failed", zap.Error(err))
	}
}

// Sweep purges once and returns the number of discarded jobs.
func (s *DeadLetterSweeper) Sweep(ctx context.Context) (int, error) {
	if s.purger == nil {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	n, err := s.purger.PurgeOlderThan(ctx, s.retention)
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead-lettered jobs: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	s.logger.Info("dead_letter_jobs_discarded", zap.Int("count", n), zap.Duration("retention", s.retention))
	if s.OnPurged != nil {
		s.OnPurged(ctx, n, s.retention)
	}
	return n, nil
}
