package commands

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/benvon/timesheet-sync/internal/queue"
	"github.com/spf13/cobra"
)

// NewIngestCmd creates the ingest command
func NewIngestCmd(opts *Options) *cobra.Command {
	var (
		days     int
		viaQueue bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest closed tickets now",
		Long:  "Run an ingestion of today's closed tickets, or of the last --days days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			if viaQueue {
				return publishJob(cmd.Context(), queue.NewRunJob(queue.JobTypeForceIngest, days, "timesheetctl"))
			}

			path := "/api/v1/runs/ingest"
			if days > 0 {
				path += "?days=" + strconv.Itoa(days)
			}
			var summary models.IngestSummary
			if err := opts.client().do(cmd.Context(), http.MethodPost, path, nil, &summary); err != nil {
				return err
			}
			printIngestSummary(cmd, summary)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Ingest the last N days instead of today")
	cmd.Flags().BoolVar(&viaQueue, "via-queue", false, "Publish a force_ingest job to RabbitMQ instead of calling the API")

	return cmd
}

// NewProcessCmd creates the process command
func NewProcessCmd(opts *Options) *cobra.Command {
	var viaQueue bool

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Submit the pending queue now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viaQueue {
				return publishJob(cmd.Context(), queue.NewRunJob(queue.JobTypeForceProcess, 0, "timesheetctl"))
			}

			var summary models.BatchSummary
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/runs/process", nil, &summary); err != nil {
				return err
			}
			printBatchSummary(cmd, summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&viaQueue, "via-queue", false, "Publish a force_process job to RabbitMQ instead of calling the API")

	return cmd
}

func printIngestSummary(cmd *cobra.Command, s models.IngestSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ingestion %s (%s)\n", s.RunID, s.Origin)
	fmt.Fprintf(out, "  Fetched: %d\n", s.Fetched)
	fmt.Fprintf(out, "  Queued:  %d\n", s.Queued)
	fmt.Fprintf(out, "  Skipped: %d\n", s.Skipped)
	if s.Invalid > 0 {
		fmt.Fprintf(out, "  Invalid: %d\n", s.Invalid)
	}
	if s.Error != "" {
		fmt.Fprintf(out, "  Error:   %s\n", s.Error)
	}
}

func printBatchSummary(cmd *cobra.Command, s models.BatchSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Processing run %s\n", s.RunID)
	fmt.Fprintf(out, "  Dates:     %d\n", s.Dates)
	fmt.Fprintf(out, "  Submitted: %d slot(s), %d failed attempt(s)\n", s.SlotsSubmitted, s.SlotsFailed)
	fmt.Fprintf(out, "  Processed: %d\n", s.Processed)
	fmt.Fprintf(out, "  Remaining: %d\n", s.Remaining)
	if len(s.WeekLocked) > 0 {
		fmt.Fprintf(out, "  Closed from locked weeks: %s\n", strings.Join(s.WeekLocked, ", "))
	}
	if len(s.Abandoned) > 0 {
		fmt.Fprintf(out, "  Abandoned: %s\n", strings.Join(s.Abandoned, ", "))
	}
	if s.Aborted {
		fmt.Fprintln(out, "  Aborted: the timesheet channel failed, some dates were not submitted")
	}
	if s.Error != "" {
		fmt.Fprintf(out, "  Error:     %s\n", s.Error)
	}
}
