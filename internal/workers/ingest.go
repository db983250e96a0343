package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/benvon/timesheet-sync/internal/entries"
	"github.com/benvon/timesheet-sync/internal/logger"
	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/benvon/timesheet-sync/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Ingestion origins recorded in IngestSummary.Origin.
const (
	OriginToday   = "today"
	OriginBacklog = "backlog"
	OriginManual  = "manual"
)

// IngestToday fetches the items closed today and merges them into the pending queue.
func (p *Processor) IngestToday(ctx context.Context) (models.IngestSummary, error) {
	if !p.lock.tryAcquire() {
		return models.IngestSummary{}, ErrRunInProgress
	}
	defer p.lock.release()

	return p.fetchAndIngest(ctx, OriginToday, func(ctx context.Context) ([]models.WorkItem, error) {
		return p.source.FetchClosedItemsToday(ctx)
	})
}

// IngestBacklog fetches the items closed over the last days days and merges them.
func (p *Processor) IngestBacklog(ctx context.Context, days int) (models.IngestSummary, error) {
	if days <= 0 {
		return models.IngestSummary{}, fmt.Errorf("backlog days must be positive, got %d", days)
	}
	if !p.lock.tryAcquire() {
		return models.IngestSummary{}, ErrRunInProgress
	}
	defer p.lock.release()

	return p.fetchAndIngest(ctx, OriginBacklog, func(ctx context.Context) ([]models.WorkItem, error) {
		return p.source.FetchClosedItemsRange(ctx, days)
	})
}

func (p *Processor) fetchAndIngest(ctx context.Context, origin string, fetch func(context.Context) ([]models.WorkItem, error)) (models.IngestSummary, error) {
	if p.source == nil {
		return models.IngestSummary{}, errors.New("no record source configured")
	}
	items, err := fetch(ctx)
	if err != nil {
		p.logger.Error("record_fetch_failed",
			zap.String("origin", origin),
			zap.String("error", logger.SanitizeError(err)),
		)
		p.notify(ctx, fmt.Sprintf("Ingestion (%s) failed: could not read the ticket system: %v", origin, err))
		return models.IngestSummary{Origin: origin, Error: err.Error()}, fmt.Errorf("failed to fetch closed items: %w", err)
	}
	return p.ingest(ctx, items, origin)
}

// Ingest merges a batch of work items into the pending queue. Items already
// in the processed ledger or already pending are skipped, so repeating a
// batch queues each item at most once.
func (p *Processor) Ingest(ctx context.Context, items []models.WorkItem, origin string) (models.IngestSummary, error) {
	if !p.lock.tryAcquire() {
		return models.IngestSummary{}, ErrRunInProgress
	}
	defer p.lock.release()
	return p.ingest(ctx, items, origin)
}

// EnqueueManual converts a manual entry request into work items and queues
// them. It waits for a running batch to finish instead of failing. Items of
// ref that are already pending or processed count as queued.
func (p *Processor) EnqueueManual(ctx context.Context, req entries.Request, ref entries.Ref) ([]models.WorkItem, error) {
	items, err := req.WorkItems(p.localNow(), ref)
	if err != nil {
		return nil, err
	}
	if err := p.lock.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.lock.release()

	summary, err := p.ingest(ctx, items, OriginManual)
	if err != nil {
		return nil, err
	}
	if summary.Queued+summary.Skipped != len(items) {
		return nil, fmt.Errorf("queued %d of %d manual items", summary.Queued, len(items))
	}
	if summary.Skipped > 0 {
		p.logger.Info("manual_entry_replayed",
			zap.String("ref", ref.ID.String()),
			zap.Int("queued", summary.Queued),
			zap.Int("skipped", summary.Skipped),
		)
	}
	return items, nil
}

func (p *Processor) ingest(ctx context.Context, items []models.WorkItem, origin string) (models.IngestSummary, error) {
	ctx, span := p.tracer.Start(ctx, "workers.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("ingest.origin", origin),
		attribute.Int("ingest.fetched", len(items)),
	)

	summary := models.IngestSummary{
		RunID:     uuid.NewString(),
		Origin:    origin,
		StartedAt: p.now(),
		Fetched:   len(items),
	}

	fail := func(err error) (models.IngestSummary, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		summary.Error = err.Error()
		summary.FinishedAt = p.now()
		p.logger.Error("ingest_failed", zap.String("run_id", summary.RunID), zap.Error(err))
		p.notify(ctx, fmt.Sprintf("Ingestion (%s) failed: %v", origin, err))
		return summary, err
	}

	pending, err := p.store.ListPending(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to list pending items: %w", err))
	}
	seen := make(map[string]struct{}, len(pending)+len(items))
	for _, item := range pending {
		seen[item.ID] = struct{}{}
	}

	for _, item := range items {
		if err := item.Validate(); err != nil {
			summary.Invalid++
			p.logger.Warn("work_item_invalid",
				zap.String("work_item_id", item.ID),
				zap.String("title", logger.SanitizeTitle(item.Title)),
				zap.Error(err),
			)
			continue
		}
		if _, dup := seen[item.ID]; dup {
			summary.Skipped++
			continue
		}
		processed, err := p.store.IsProcessed(ctx, item.ID)
		if err != nil {
			return fail(fmt.Errorf("failed to check processed ledger: %w", err))
		}
		if processed {
			summary.Skipped++
			seen[item.ID] = struct{}{}
			continue
		}

		if !item.IsManual() && p.enricher != nil {
			p.enricher.Enrich(&item)
		}
		if item.QueuedAt.IsZero() {
			item.QueuedAt = p.now()
		}
		if err := p.store.AddPending(ctx, item); err != nil {
			return fail(fmt.Errorf("failed to queue item %s: %w", item.ID, err))
		}
		seen[item.ID] = struct{}{}
		summary.Queued++
		p.logger.Debug("work_item_queued",
			zap.String("work_item_id", item.ID),
			zap.String("date", item.DateKey()),
			zap.String("source", string(item.Source)),
		)
	}

	summary.FinishedAt = p.now()
	span.SetAttributes(
		attribute.Int("ingest.queued", summary.Queued),
		attribute.Int("ingest.skipped", summary.Skipped),
	)
	p.logger.Info("ingest_completed",
		zap.String("run_id", summary.RunID),
		zap.String("origin", origin),
		zap.Int("fetched", summary.Fetched),
		zap.Int("queued", summary.Queued),
		zap.Int("skipped", summary.Skipped),
		zap.Int("invalid", summary.Invalid),
	)

	if summary.Queued > 0 {
		p.notify(ctx, formatIngestNotice(summary))
	}
	if err := p.store.SaveState(ctx, store.StateLastIngest, summary); err != nil {
		p.logger.Warn("run_state_save_failed", zap.String("key", store.StateLastIngest), zap.Error(err))
	}
	return summary, nil
}

func formatIngestNotice(s models.IngestSummary) string {
	if s.Origin == OriginManual {
		return fmt.Sprintf("Queued %d manual entr%s.", s.Queued, plural(s.Queued, "y", "ies"))
	}
	return fmt.Sprintf("Queued %d new ticket%s (%s ingestion, %d already known).",
		s.Queued, plural(s.Queued, "", "s"), s.Origin, s.Skipped)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
