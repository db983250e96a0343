package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key the Redis store writes.
const DefaultKeyPrefix = "timesheet:"

// RedisStore keeps pending items in a hash (id -> JSON) with a sorted set
// holding queue order, the ledger in a set and state records in a hash.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ QueueStore = (*RedisStore)(nil)

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) pendingKey() string   { return s.prefix + "pending" }
func (s *RedisStore) orderKey() string     { return s.prefix + "pending:order" }
func (s *RedisStore) processedKey() string { return s.prefix + "processed" }
func (s *RedisStore) stateKey() string     { return s.prefix + "state" }

// AddPending stores the item and its queue position in one transaction.
func (s *RedisStore) AddPending(ctx context.Context, item models.WorkItem) error {
	if item.QueuedAt.IsZero() {
		item.QueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item %s: %w", item.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, s.pendingKey(), item.ID, data)
		pipe.ZAddNX(ctx, s.orderKey(), redis.Z{
			Score:  float64(item.QueuedAt.UnixMilli()),
			Member: item.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add pending item %s: %w", item.ID, err)
	}
	return nil
}

// ListPending returns items ordered by queue time. Ids present in the order
// set without a stored body are ignored.
func (s *RedisStore) ListPending(ctx context.Context) ([]models.WorkItem, error) {
	ids, err := s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending order: %w", err)
	}
	if len(ids) == 0 {
		return []models.WorkItem{}, nil
	}

	values, err := s.client.HMGet(ctx, s.pendingKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending items: %w", err)
	}

	items := make([]models.WorkItem, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var item models.WorkItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending item %s: %w", ids[i], err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *RedisStore) RemovePending(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.pendingKey(), id)
		pipe.ZRem(ctx, s.orderKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove pending item %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, id string) error {
	if err := s.client.SAdd(ctx, s.processedKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", id, err)
	}
	return nil
}

func (s *RedisStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.processedKey(), id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check ledger for %s: %w", id, err)
	}
	return ok, nil
}

func (s *RedisStore) SaveState(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state %s: %w", key, err)
	}
	if err := s.client.HSet(ctx, s.stateKey(), key, data).Err(); err != nil {
		return fmt.Errorf("failed to save state %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) LoadState(ctx context.Context, key string, dest any) error {
	data, err := s.client.HGet(ctx, s.stateKey(), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load state %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal state %s: %w", key, err)
	}
	return nil
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
