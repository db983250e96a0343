package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/benvon/timesheet-sync/internal/config"
	"github.com/benvon/timesheet-sync/internal/queue"
)

// publishJob sends job to the worker's intake queue using RABBITMQ_URL.
func publishJob(ctx context.Context, job *queue.Job) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.RabbitMQURL == "" {
		return fmt.Errorf("RABBITMQ_URL is required with --via-queue")
	}

	jobQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close RabbitMQ connection: %v\n", err)
		}
	}()

	if err := jobQueue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to publish %s job: %w", job.Type, err)
	}
	fmt.Printf("Published %s job %s\n", job.Type, job.ID)
	return nil
}
