// Package database provides the PostgreSQL backend of the queue store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the shared connection pool.
type DB struct {
	*sql.DB
}

// New opens a PostgreSQL pool for databaseURL and verifies connectivity.
func New(databaseURL string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{DB: sqlDB}, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS pending_tickets (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		origin_date DATE NOT NULL,
		source TEXT NOT NULL,
		fixed_duration_minutes INTEGER,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		queued_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_tickets_queued_at ON pending_tickets (queued_at, id)`,
	`CREATE TABLE IF NOT EXISTS processed_tickets (
		id TEXT PRIMARY KEY,
		processed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_state (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the queue tables when they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
