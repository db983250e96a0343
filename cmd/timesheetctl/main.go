package main

import (
	"fmt"
	"os"

	"github.com/benvon/timesheet-sync/cmd/timesheetctl/commands"
	"github.com/spf13/cobra"
)

func main() {
	opts := &commands.Options{}

	var rootCmd = &cobra.Command{
		Use:   "timesheetctl",
		Short: "Operator tool for the timesheet sync worker",
		Long:  "CLI tool for queueing manual entries, triggering runs and inspecting the pending queue",
	}
	opts.Bind(rootCmd)

	rootCmd.AddCommand(commands.NewIngestCmd(opts))
	rootCmd.AddCommand(commands.NewProcessCmd(opts))
	rootCmd.AddCommand(commands.NewEnqueueCmd(opts))
	rootCmd.AddCommand(commands.NewPendingCmd(opts))
	rootCmd.AddCommand(commands.NewStatusCmd(opts))
	rootCmd.AddCommand(commands.NewPlanCmd(opts))
	rootCmd.AddCommand(commands.NewCheckCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
