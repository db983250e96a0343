// Package store defines the durable queue store contract and its Redis backend.
package store

import (
	"context"
	"errors"

	"github.com/benvon/timesheet-sync/internal/models"
)

// ErrNotFound is returned by LoadState when no value is stored under the key.
var ErrNotFound = errors.New("state not found")

// Well-known application state keys.
const (
	StateLastIngest = "last_ingest"
	StateLastBatch  = "last_batch"
)

// QueueStore persists the pending queue, the processed ledger and small
// application state records. Every operation is individually atomic and
// durable; callers never read-modify-write the whole queue.
type QueueStore interface {
	// AddPending queues an item. Adding an id that is already pending is a no-op.
	AddPending(ctx context.Context, item models.WorkItem) error
	// ListPending returns pending items in queue order.
	ListPending(ctx context.Context) ([]models.WorkItem, error)
	RemovePending(ctx context.Context, id string) error
	// MarkProcessed appends id to the ledger. Ledger entries are never removed.
	MarkProcessed(ctx context.Context, id string) error
	IsProcessed(ctx context.Context, id string) (bool, error)
	// SaveState stores value JSON-encoded under key.
	SaveState(ctx context.Context, key string, value any) error
	// LoadState decodes the value stored under key into dest, or returns ErrNotFound.
	LoadState(ctx context.Context, key string, dest any) error
	Ping(ctx context.Context) error
	Close() error
}
