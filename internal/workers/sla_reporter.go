package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/benvon/timesheet-sync/internal/notify"
	"github.com/benvon/timesheet-sync/internal/tickets"
	"go.uber.org/zap"
)

// SLASource reads open tickets close to or past their resolution deadline.
type SLASource interface {
	FetchSLAWarnings(ctx context.Context) ([]tickets.SLATicket, error)
	FetchSLABreaches(ctx context.Context) ([]tickets.SLATicket, error)
}

// SLAReporter pushes the SLA warning and breach reports through the notifier.
type SLAReporter struct {
	source   SLASource
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewSLAReporter creates an SLA reporter
func NewSLAReporter(source SLASource, notifier notify.Notifier, logger *zap.Logger) *SLAReporter {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLAReporter{source: source, notifier: notifier, logger: logger}
}

// Report sends both reports. A failed query is reported through the notifier
// and does not stop the other report.
func (r *SLAReporter) Report(ctx context.Context) error {
	var errs []error

	warnings, err := r.source.FetchSLAWarnings(ctx)
	if err != nil {
		errs = append(errs, r.fail(ctx, "warning", err))
	} else {
		r.notifier.Notify(ctx, tickets.FormatWarningReport(warnings))
	}

	breaches, err := r.source.FetchSLABreaches(ctx)
	if err != nil {
		errs = append(errs, r.fail(ctx, "breach", err))
	} else {
		r.notifier.Notify(ctx, tickets.FormatBreachReport(breaches))
	}

	r.logger.Info("sla_report_sent",
		zap.Int("warnings", len(warnings)),
		zap.Int("breaches", len(breaches)),
		zap.Int("errors", len(errs)),
	)
	return errors.Join(errs...)
}

func (r *SLAReporter) fail(ctx context.Context, report string, err error) error {
	r.logger.Error("sla_report_failed", zap.String("report", report), zap.Error(err))
	r.notifier.Notify(ctx, fmt.Sprintf("SLA %s report failed: %v", report, err))
	return fmt.Errorf("sla %s report: %w", report, err)
}
