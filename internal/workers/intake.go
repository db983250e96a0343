package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/benvon/timesheet-sync/internal/entries"
	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/benvon/timesheet-sync/internal/queue"
	"go.uber.org/zap"
)

// Runner is the part of Processor driven by intake jobs.
type Runner interface {
	EnqueueManual(ctx context.Context, req entries.Request, ref entries.Ref) ([]models.WorkItem, error)
	IngestToday(ctx context.Context) (models.IngestSummary, error)
	IngestBacklog(ctx context.Context, days int) (models.IngestSummary, error)
	ProcessBatch(ctx context.Context) (models.BatchSummary, error)
}

var _ Runner = (*Processor)(nil)

// errRejected marks a job that can never succeed; it is dead-lettered without retry.
var errRejected = errors.New("job rejected")

// IntakeConsumer applies jobs from the intake queue to the processor.
type IntakeConsumer struct {
	runner   Runner
	jobQueue queue.JobQueue
	logger   *zap.Logger
}

// NewIntakeConsumer creates a consumer. jobQueue is used to re-publish jobs
// that failed with a retryable error.
func NewIntakeConsumer(runner Runner, jobQueue queue.JobQueue, logger *zap.Logger) *IntakeConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeConsumer{runner: runner, jobQueue: jobQueue, logger: logger}
}

// Run consumes the intake queue until ctx is cancelled or delivery stops.
func (c *IntakeConsumer) Run(ctx context.Context, prefetch int) error {
	msgChan, errChan, err := c.jobQueue.Consume(ctx, prefetch)
	if err != nil {
		return fmt.Errorf("failed to start consuming intake queue: %w", err)
	}
	c.logger.Info("intake_consumer_started", zap.Int("prefetch", prefetch))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errChan:
			if !ok {
				errChan = nil
				continue
			}
			c.logger.Error("intake_queue_error", zap.Error(err))
		case msg, ok := <-msgChan:
			if !ok {
				c.logger.Info("intake_message_channel_closed")
				return nil
			}
			if err := c.ProcessJob(ctx, msg); err != nil {
				job := msg.GetJob()
				c.logger.Error("intake_job_failed",
					zap.Error(err),
					zap.String("job_id", job.ID.String()),
					zap.String("job_type", string(job.Type)),
				)
			}
		}
	}
}

// ProcessJob handles one message and acknowledges it.
func (c *IntakeConsumer) ProcessJob(ctx context.Context, msg queue.MessageInterface) error {
	job := msg.GetJob()
	if job.IsExpired() {
		if nackErr := msg.Nack(false); nackErr != nil {
			c.logger.Warn("intake_nack_failed", zap.Error(nackErr))
		}
		return fmt.Errorf("job %s expired", job.ID)
	}

	err := c.apply(ctx, job)
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			return fmt.Errorf("failed to ack job: %w", ackErr)
		}
		return nil
	case errors.Is(err, ErrRunInProgress):
		// Another run already covers this trigger.
		c.logger.Info("intake_job_superseded",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)),
		)
		if ackErr := msg.Ack(); ackErr != nil {
			return fmt.Errorf("failed to ack job: %w", ackErr)
		}
		return nil
	default:
		return c.handleJobError(ctx, msg, job, err)
	}
}

func (c *IntakeConsumer) apply(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeManualEntry:
		if job.Entry == nil {
			return fmt.Errorf("%w: manual_entry job without entry", errRejected)
		}
		if err := job.Entry.Validate(); err != nil {
			return fmt.Errorf("%w: %v", errRejected, err)
		}
		// Retries re-publish the job with its id, so a replay rebuilds the same items.
		items, err := c.runner.EnqueueManual(ctx, *job.Entry, entries.Ref{ID: job.ID, At: job.CreatedAt})
		if err != nil {
			return err
		}
		c.logger.Info("manual_entry_queued",
			zap.String("job_id", job.ID.String()),
			zap.String("origin", job.Origin),
			zap.Int("items", len(items)),
		)
		return nil

	case queue.JobTypeForceIngest:
		if job.BacklogDays > 0 {
			_, err := c.runner.IngestBacklog(ctx, job.BacklogDays)
			return err
		}
		_, err := c.runner.IngestToday(ctx)
		return err

	case queue.JobTypeForceProcess:
		_, err := c.runner.ProcessBatch(ctx)
		return err

	default:
		return fmt.Errorf("%w: unknown job type %q", errRejected, job.Type)
	}
}

// handleJobError re-publishes a failed job with an incremented retry count
// while it has retries left, and dead-letters it otherwise.
func (c *IntakeConsumer) handleJobError(ctx context.Context, msg queue.MessageInterface, job *queue.Job, err error) error {
	if errors.Is(err, errRejected) || !job.CanRetry() {
		if nackErr := msg.Nack(false); nackErr != nil {
			c.logger.Warn("intake_nack_failed", zap.Error(nackErr))
		}
		return fmt.Errorf("job %s dead-lettered after %d retries: %w", job.ID, job.RetryCount, err)
	}

	retry := *job
	retry.IncrementRetry()
	if enqueueErr := c.jobQueue.Enqueue(ctx, &retry); enqueueErr != nil {
		// Fall back to broker redelivery.
		if nackErr := msg.Nack(true); nackErr != nil {
			c.logger.Warn("intake_nack_failed", zap.Error(nackErr))
		}
		return fmt.Errorf("failed to re-enqueue job %s: %w", job.ID, enqueueErr)
	}
	if ackErr := msg.Ack(); ackErr != nil {
		c.logger.Warn("intake_ack_failed", zap.Error(ackErr))
	}
	c.logger.Info("intake_job_requeued",
		zap.String("job_id", job.ID.String()),
		zap.Int("retry_count", retry.RetryCount),
	)
	return fmt.Errorf("job %s failed, retry %d/%d scheduled: %w", job.ID, retry.RetryCount, job.MaxRetries, err)
}
