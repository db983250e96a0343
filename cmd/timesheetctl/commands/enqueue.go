package commands

import (
	"fmt"
	"net/http"

	"github.com/benvon/timesheet-sync/internal/entries"
	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/benvon/timesheet-sync/internal/queue"
	"github.com/spf13/cobra"
)

// NewEnqueueCmd creates the enqueue command
func NewEnqueueCmd(opts *Options) *cobra.Command {
	var (
		req          entries.Request
		distribution string
		viaQueue     bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a manual time entry",
		Long: "Queue a manual entry with a fixed duration. --distribution is one of today, tomorrow, " +
			"split (half today, half tomorrow) or date (requires --date).",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Distribution = models.Distribution(distribution)
			if err := req.Validate(); err != nil {
				return err
			}

			if viaQueue {
				return publishJob(cmd.Context(), queue.NewEntryJob(req, "timesheetctl"))
			}

			var items []models.WorkItem
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/entries", req, &items); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queued %d item(s):\n", len(items))
			for _, item := range items {
				minutes := 0
				if item.FixedDurationMinutes != nil {
					minutes = *item.FixedDurationMinutes
				}
				fmt.Fprintf(out, "  - %s on %s, %d min\n", item.ID, item.DateKey(), minutes)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Description, "description", "", "Entry description (required)")
	cmd.Flags().StringVar(&req.Client, "client", "", "Timesheet customer (required)")
	cmd.Flags().StringVar(&req.Project, "project", "", "Timesheet project (required)")
	cmd.Flags().StringVar(&req.Activity, "activity", "", "Timesheet activity (required)")
	cmd.Flags().StringSliceVar(&req.Tags, "tag", nil, "Tag to attach, repeatable")
	cmd.Flags().Float64Var(&req.Hours, "hours", 0, "Duration in hours (required)")
	cmd.Flags().StringVar(&distribution, "distribution", string(models.DistributionToday), "today, tomorrow, split or date")
	cmd.Flags().StringVar(&req.Date, "date", "", "Booking date YYYY-MM-DD for --distribution date")
	cmd.Flags().BoolVar(&viaQueue, "via-queue", false, "Publish a manual_entry job to RabbitMQ instead of calling the API")

	return cmd
}
