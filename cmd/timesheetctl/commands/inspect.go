package commands

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/spf13/cobra"
)

// NewPendingCmd creates the pending command
func NewPendingCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List the pending queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Items []models.WorkItem `json:"items"`
				Count int               `json:"count"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/pending", nil, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.Count == 0 {
				fmt.Fprintln(out, "The pending queue is empty")
				return nil
			}
			fmt.Fprintf(out, "%d pending item(s):\n", resp.Count)
			for _, item := range resp.Items {
				duration := "auto"
				if item.IsFixed() {
					duration = fmt.Sprintf("%d min", *item.FixedDurationMinutes)
				}
				fmt.Fprintf(out, "  - [%s] %s  %s  (%s, %s)\n", item.DateKey(), item.ID, item.Title, item.Source, duration)
			}
			return nil
		},
	}
}

// NewStatusCmd creates the status command
func NewStatusCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last ingestion and processing runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				LastIngest *models.IngestSummary `json:"last_ingest"`
				LastBatch  *models.BatchSummary  `json:"last_batch"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/runs/last", nil, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.LastIngest == nil {
				fmt.Fprintln(out, "No ingestion recorded yet")
			} else {
				fmt.Fprintf(out, "Last ingestion finished %s\n", resp.LastIngest.FinishedAt.Format(time.RFC3339))
				printIngestSummary(cmd, *resp.LastIngest)
			}
			fmt.Fprintln(out)
			if resp.LastBatch == nil {
				fmt.Fprintln(out, "No processing run recorded yet")
			} else {
				fmt.Fprintf(out, "Last processing run finished %s\n", resp.LastBatch.FinishedAt.Format(time.RFC3339))
				printBatchSummary(cmd, *resp.LastBatch)
			}
			return nil
		},
	}
}

// NewPlanCmd creates the plan command
func NewPlanCmd(opts *Options) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the schedule the next run would submit for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = time.Now().Format(models.DateLayout)
			}
			if _, err := time.Parse(models.DateLayout, date); err != nil {
				return fmt.Errorf("--date must be formatted YYYY-MM-DD")
			}

			var resp struct {
				Date  string                `json:"date"`
				Slots []models.ScheduleSlot `json:"slots"`
			}
			path := "/api/v1/plan?date=" + url.QueryEscape(date)
			if err := opts.client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(resp.Slots) == 0 {
				fmt.Fprintf(out, "Nothing pending for %s\n", resp.Date)
				return nil
			}
			fmt.Fprintf(out, "Plan for %s:\n", resp.Date)
			total := 0
			for _, slot := range resp.Slots {
				fmt.Fprintf(out, "  %s-%s  %3d min  %s\n",
					slot.Start.Format("15:04"), slot.End.Format("15:04"), slot.DurationMinutes, slot.Title)
				total += slot.DurationMinutes
			}
			fmt.Fprintf(out, "Total: %d min\n", total)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Date to plan, YYYY-MM-DD (defaults to today)")

	return cmd
}
