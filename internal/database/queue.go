package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/benvon/timesheet-sync/internal/store"
)

// QueueRepository implements store.QueueStore on PostgreSQL. Each method is a
// single statement, so every operation commits on its own.
type QueueRepository struct {
	db  *DB
	now func() time.Time
}

var _ store.QueueStore = (*QueueRepository)(nil)

// NewQueueRepository creates a new queue repository
func NewQueueRepository(db *DB) *QueueRepository {
	return &QueueRepository{db: db, now: time.Now}
}

// AddPending inserts the item; an id that is already pending is left untouched.
func (r *QueueRepository) AddPending(ctx context.Context, item models.WorkItem) error {
	metadataJSON, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if item.Metadata == nil {
		metadataJSON = []byte("{}")
	}

	queuedAt := item.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = r.now().UTC()
	}

	var fixed sql.NullInt64
	if item.FixedDurationMinutes != nil {
		fixed = sql.NullInt64{Int64: int64(*item.FixedDurationMinutes), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pending_tickets (id, title, origin_date, source, fixed_duration_minutes, metadata, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Title, item.DateKey(), string(item.Source), fixed, metadataJSON, queuedAt)
	if err != nil {
		return fmt.Errorf("failed to add pending item %s: %w", item.ID, err)
	}
	return nil
}

// ListPending returns pending items in queue order.
func (r *QueueRepository) ListPending(ctx context.Context) ([]models.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, origin_date, source, fixed_duration_minutes, metadata, queued_at
		FROM pending_tickets
		ORDER BY queued_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	items := []models.WorkItem{}
	for rows.Next() {
		var (
			item         models.WorkItem
			source       string
			fixed        sql.NullInt64
			metadataJSON []byte
		)
		if err := rows.Scan(&item.ID, &item.Title, &item.OriginDate, &source, &fixed, &metadataJSON, &item.QueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending item: %w", err)
		}
		item.Source = models.Source(source)
		if fixed.Valid {
			item.FixedDurationMinutes = models.IntPtr(int(fixed.Int64))
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &item.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", item.ID, err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending items: %w", err)
	}
	return items, nil
}

func (r *QueueRepository) RemovePending(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_tickets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to remove pending item %s: %w", id, err)
	}
	return nil
}

func (r *QueueRepository) MarkProcessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_tickets (id, processed_at) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", id, err)
	}
	return nil
}

func (r *QueueRepository) IsProcessed(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM processed_tickets WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger for %s: %w", id, err)
	}
	return exists, nil
}

func (r *QueueRepository) SaveState(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state %s: %w", key, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO app_state (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, data, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save state %s: %w", key, err)
	}
	return nil
}

func (r *QueueRepository) LoadState(ctx context.Context, key string, dest any) error {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load state %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal state %s: %w", key, err)
	}
	return nil
}

// Ping checks database connectivity
func (r *QueueRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (r *QueueRepository) Close() error {
	return r.db.Close()
}
