package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/benvon/timesheet-sync/internal/config"
	"github.com/benvon/timesheet-sync/internal/database"
	"github.com/benvon/timesheet-sync/internal/queue"
	"github.com/benvon/timesheet-sync/internal/store"
	"github.com/benvon/timesheet-sync/internal/tickets"
	"github.com/benvon/timesheet-sync/internal/timesheet"
	"github.com/spf13/cobra"
)

// NewCheckCmd creates the check command. It reads the worker's environment
// and tests every configured dependency directly.
func NewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Test connectivity to the worker's dependencies",
		Long:  "Load the worker configuration from the environment and test the queue store, ticket system, timesheet server and intake queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			failed := 0
			report := func(name string, err error) {
				if err != nil {
					failed++
					fmt.Printf("✗ %s: %v\n", name, err)
					return
				}
				fmt.Printf("✓ %s is reachable\n", name)
			}

			report("Queue store ("+cfg.StoreBackend+")", checkStore(ctx, cfg))

			if err := cfg.RequireRecordSystem(); err != nil {
				report("Ticket system", err)
			} else {
				report("Ticket system", checkTickets(ctx, cfg))
			}

			if err := cfg.RequireTimesheet(); err != nil {
				report("Timesheet server", err)
			} else {
				client := timesheet.NewClient(timesheet.Config{
					BaseURL:  cfg.TimesheetURL,
					APIToken: cfg.TimesheetAPIToken,
					Timeout:  cfg.TimesheetTimeout,
				}, nil)
				err := client.Open(ctx)
				_ = client.Close()
				report("Timesheet server", err)
			}

			if cfg.RabbitMQURL != "" {
				report("Intake queue", checkQueue(ctx, cfg))
			} else {
				fmt.Println("- Intake queue not configured (RABBITMQ_URL is empty)")
			}

			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			fmt.Println("\n✓ All configured dependencies are reachable")
			return nil
		},
	}
}

func checkStore(ctx context.Context, cfg *config.Config) error {
	var st store.QueueStore
	if cfg.StoreBackend == config.StoreRedis {
		rs, err := store.NewRedisStore(cfg.RedisURL, cfg.RedisKeyPrefix)
		if err != nil {
			return err
		}
		st = rs
	} else {
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		st = database.NewQueueRepository(db)
	}
	defer func() {
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close queue store: %v\n", err)
		}
	}()
	return st.Ping(ctx)
}

func checkTickets(ctx context.Context, cfg *config.Config) error {
	source, err := tickets.NewSource(tickets.Config{
		Host:      cfg.GLPIHost,
		Port:      cfg.GLPIPort,
		User:      cfg.GLPIUser,
		Password:  cfg.GLPIPassword,
		Name:      cfg.GLPIName,
		UserEmail: cfg.GLPIUserEmail,
		Location:  cfg.Location(),
	}, nil)
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()
	return source.Ping(ctx)
}

func checkQueue(ctx context.Context, cfg *config.Config) error {
	jobQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL, nil)
	if err != nil {
		return err
	}
	defer func() { _ = jobQueue.Close() }()
	return jobQueue.HealthCheck(ctx)
}
