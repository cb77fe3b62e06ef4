// Package dedup tracks processed webhook event IDs.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "meterd:webhook:"

// RedisDedup records event IDs in Redis, surviving restarts and shared
// across replicas. Entries expire after ttl.
type RedisDedup struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis creates a Redis-backed dedup store.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *RedisDedup {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDedup{client: client, ttl: ttl}
}

// MarkProcessed records the event ID and reports whether it was already seen.
func (d *RedisDedup) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, keyPrefix+eventID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	return !ok, nil
}

// Clear forgets the event ID.
func (d *RedisDedup) Clear(ctx context.Context, eventID string) error {
	if err := d.client.Del(ctx, keyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("clear event: %w", err)
	}
	return nil
}
