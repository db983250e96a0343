package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/benvon/timesheet-sync/internal/allocation"
	"github.com/benvon/timesheet-sync/internal/logger"
	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/benvon/timesheet-sync/internal/store"
	"github.com/benvon/timesheet-sync/internal/timesheet"
	"github.com/benvon/timesheet-sync/internal/weeklock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// dayPlan is one date's allocation for the current run.
type dayPlan struct {
	date  string
	items []models.WorkItem
	slots []models.ScheduleSlot
}

// dayResult is what a date's submission loop hands to the commit step.
type dayResult struct {
	succeeded map[string]struct{}
	abandoned []string
	submitted int
	failed    int
	// aborted is set when the channel could not be recovered or the run was cancelled.
	aborted bool
}

// ProcessBatch submits every pending item and commits the outcome back to the
// queue store. Items confirmed submitted, or abandoned after MaxFailures
// attempts, are added to the processed ledger and removed from the queue one
// date at a time; everything else stays pending for the next run.
func (p *Processor) ProcessBatch(ctx context.Context) (models.BatchSummary, error) {
	if !p.lock.tryAcquire() {
		return models.BatchSummary{}, ErrRunInProgress
	}
	defer p.lock.release()

	ctx, span := p.tracer.Start(ctx, "workers.ProcessBatch")
	defer span.End()

	summary := models.BatchSummary{
		RunID:     uuid.NewString(),
		StartedAt: p.now(),
	}
	log := p.logger.With(zap.String("run_id", summary.RunID))
	log.Info("batch_run_started")

	summary, err := p.processBatch(ctx, span, log, summary)
	summary.FinishedAt = p.now()
	if err != nil {
		summary.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("batch_run_failed", zap.Error(err))
		p.notify(ctx, fmt.Sprintf("Processing run failed: %v. Pending work is kept for the next run.", err))
	}
	if saveErr := p.store.SaveState(context.WithoutCancel(ctx), store.StateLastBatch, summary); saveErr != nil {
		log.Warn("run_state_save_failed", zap.String("key", store.StateLastBatch), zap.Error(saveErr))
	}
	return summary, err
}

func (p *Processor) processBatch(ctx context.Context, span trace.Span, log *zap.Logger, summary models.BatchSummary) (models.BatchSummary, error) {
	pending, err := p.store.ListPending(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list pending items: %w", err)
	}
	if len(pending) == 0 {
		log.Info("batch_run_nothing_pending")
		p.notify(ctx, "Nothing to do: the pending queue is empty.")
		return summary, nil
	}
	span.SetAttributes(attribute.Int("batch.pending", len(pending)))

	open, locked, err := p.releaseLocked(ctx, log, pending)
	summary.WeekLocked = locked
	if err != nil {
		summary.Remaining = len(pending) - len(locked)
		return summary, err
	}
	if len(locked) > 0 {
		p.notify(ctx, formatLockedNotice(locked))
	}

	days := models.GroupByDate(open)
	summary.Dates = len(days)
	summary.Remaining = len(open)
	if len(days) == 0 {
		log.Info("batch_run_nothing_open", zap.Int("week_locked", len(locked)))
		p.notify(ctx, "Nothing left to submit after closing locked weeks.")
		return summary, nil
	}

	plans, err := p.allocateDays(days)
	if err != nil {
		return summary, err
	}

	if p.channel == nil {
		return summary, errors.New("no submission channel configured")
	}
	if err := p.channel.Open(ctx); err != nil {
		summary.Aborted = true
		return summary, fmt.Errorf("failed to open submission channel: %w", err)
	}
	channelOpen := true
	defer func() {
		if channelOpen {
			if err := p.channel.Close(); err != nil {
				log.Warn("channel_close_failed", zap.Error(err))
			}
		}
	}()

	for _, plan := range plans {
		if ctx.Err() != nil {
			summary.Aborted = true
			break
		}
		if !channelOpen {
			if err := p.channel.Open(ctx); err != nil {
				log.Error("channel_reopen_failed", zap.String("date", plan.date), zap.Error(err))
				p.notify(ctx, fmt.Sprintf("Skipping %s: the timesheet channel could not be reopened (%v).", plan.date, err))
				summary.Aborted = true
				continue
			}
			channelOpen = true
		}

		result := p.submitDay(ctx, log, plan, &channelOpen)
		summary.SlotsSubmitted += result.submitted
		summary.SlotsFailed += result.failed
		summary.Abandoned = append(summary.Abandoned, result.abandoned...)
		if result.aborted {
			summary.Aborted = true
		}

		committed, err := p.commitDay(ctx, result)
		summary.Processed += committed
		summary.Remaining -= committed
		if err != nil {
			return summary, fmt.Errorf("failed to commit %s: %w", plan.date, err)
		}
		log.Info("batch_day_completed",
			zap.String("date", plan.date),
			zap.Int("items", len(plan.items)),
			zap.Int("slots", len(plan.slots)),
			zap.Int("committed", committed),
			zap.Bool("aborted", result.aborted),
		)
	}

	span.SetAttributes(
		attribute.Int("batch.processed", summary.Processed),
		attribute.Int("batch.remaining", summary.Remaining),
	)
	log.Info("batch_run_completed",
		zap.Int("processed", summary.Processed),
		zap.Int("remaining", summary.Remaining),
		zap.Int("slots_submitted", summary.SlotsSubmitted),
		zap.Int("slots_failed", summary.SlotsFailed),
		zap.Bool("aborted", summary.Aborted),
	)
	p.notify(ctx, formatBatchNotice(summary))
	return summary, nil
}

// releaseLocked commits week-locked external items to the ledger without
// submitting them. Ledger writes happen before queue removal.
func (p *Processor) releaseLocked(ctx context.Context, log *zap.Logger, pending []models.WorkItem) ([]models.WorkItem, []string, error) {
	now := p.localNow()
	open := make([]models.WorkItem, 0, len(pending))
	var locked []string
	for _, item := range pending {
		if item.IsManual() || !weeklock.IsLocked(item.OriginDate, now) {
			open = append(open, item)
			continue
		}
		if err := p.store.MarkProcessed(ctx, item.ID); err != nil {
			return nil, locked, fmt.Errorf("failed to mark week-locked item %s processed: %w", item.ID, err)
		}
		if err := p.store.RemovePending(ctx, item.ID); err != nil {
			return nil, locked, fmt.Errorf("failed to remove week-locked item %s: %w", item.ID, err)
		}
		locked = append(locked, item.ID)
		log.Info("work_item_week_locked",
			zap.String("work_item_id", item.ID),
			zap.String("date", item.DateKey()),
		)
	}
	return open, locked, nil
}

// allocateDays builds every date's slots before anything is submitted, so a
// configuration error leaves the queue untouched.
func (p *Processor) allocateDays(days []models.DaySchedule) ([]dayPlan, error) {
	plans := make([]dayPlan, 0, len(days))
	for _, day := range days {
		plan, err := p.plan.PlanFor(day.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", allocation.ErrInvalidPlan, err)
		}
		slots, err := allocation.Allocate(plan, day.Items)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate %s: %w", day.Date, err)
		}
		plans = append(plans, dayPlan{date: day.Date, items: day.Items, slots: slots})
	}
	return plans, nil
}

// submitDay pushes one date's slots in order. Each slot is retried until it
// succeeds or its item reaches the failure limit; later slots of a skipped
// item are not attempted. channelOpen tracks the channel across recoveries.
func (p *Processor) submitDay(ctx context.Context, log *zap.Logger, plan dayPlan, channelOpen *bool) dayResult {
	result := dayResult{succeeded: make(map[string]struct{})}
	failures := make(map[string]int)
	skip := make(map[string]struct{})

	for _, slot := range plan.slots {
		id := slot.WorkItemID
		if _, skipped := skip[id]; skipped {
			log.Debug("slot_skipped", zap.String("work_item_id", id), zap.Int("block", slot.Block))
			continue
		}

		for {
			if ctx.Err() != nil {
				result.aborted = true
				return result
			}
			ok, err := p.channel.Submit(ctx, slot)
			if ok && err == nil {
				result.submitted++
				result.succeeded[id] = struct{}{}
				failures[id] = 0
				log.Debug("slot_submitted",
					zap.String("work_item_id", id),
					zap.Time("start", slot.Start),
					zap.Int("minutes", slot.DurationMinutes),
				)
				break
			}

			result.failed++
			failures[id]++
			log.Warn("slot_submission_failed",
				zap.String("work_item_id", id),
				zap.String("title", logger.SanitizeTitle(slot.Title)),
				zap.Int("attempt", failures[id]),
				zap.Bool("channel_fault", err != nil),
				zap.String("error", logger.SanitizeError(err)),
			)

			if failures[id] >= p.maxFailures {
				skip[id] = struct{}{}
				result.abandoned = append(result.abandoned, id)
				p.notify(ctx, fmt.Sprintf("Abandoned %q (%s) for this run after %d failed attempts.",
					itemTitle(slot), plan.date, failures[id]))
			}

			if err != nil {
				if !p.recoverChannel(ctx, log, err) {
					*channelOpen = false
					result.aborted = true
					p.notify(ctx, fmt.Sprintf("Stopped %s: the timesheet channel broke and could not be recovered (%v).", plan.date, err))
					return result
				}
			}
			if _, skipped := skip[id]; skipped {
				break
			}
		}
	}
	return result
}

// recoverChannel closes and reopens the submission channel after a fault.
func (p *Processor) recoverChannel(ctx context.Context, log *zap.Logger, cause error) bool {
	log.Warn("channel_recovering", zap.Bool("channel_fault", timesheet.IsChannelFault(cause)))
	if err := p.channel.Close(); err != nil {
		log.Debug("channel_close_failed", zap.Error(err))
	}
	if ctx.Err() != nil {
		return false
	}
	if err := p.channel.Open(ctx); err != nil {
		log.Error("channel_recovery_failed", zap.Error(err))
		return false
	}
	log.Info("channel_recovered")
	return true
}

// commitDay writes the ledger entry before removing each item from the queue,
// so a crash in between leaves a ledger entry and never a lost item. It runs
// on a context detached from cancellation.
func (p *Processor) commitDay(ctx context.Context, result dayResult) (int, error) {
	ids := make([]string, 0, len(result.succeeded)+len(result.abandoned))
	for id := range result.succeeded {
		ids = append(ids, id)
	}
	for _, id := range result.abandoned {
		if _, ok := result.succeeded[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	committed := 0
	for _, id := range ids {
		if err := p.store.MarkProcessed(commitCtx, id); err != nil {
			return committed, err
		}
		if err := p.store.RemovePending(commitCtx, id); err != nil {
			return committed, err
		}
		committed++
	}
	return committed, nil
}

func itemTitle(slot models.ScheduleSlot) string {
	if slot.SourceItem != nil && slot.SourceItem.Title != "" {
		return slot.SourceItem.Title
	}
	return slot.WorkItemID
}

func formatLockedNotice(ids []string) string {
	return fmt.Sprintf("Closed %d item%s from locked weeks without submitting: %s",
		len(ids), plural(len(ids), "", "s"), strings.Join(ids, ", "))
}

func formatBatchNotice(s models.BatchSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processing finished: %d processed, %d still pending.", s.Processed, s.Remaining)
	if len(s.Abandoned) > 0 {
		fmt.Fprintf(&b, " Abandoned: %d.", len(s.Abandoned))
	}
	if s.Aborted {
		b.WriteString(" Some dates were interrupted and will be retried.")
	}
	return b.String()
}
