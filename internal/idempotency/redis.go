// Package idempotency shares claimed request ids between ledger instances
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a claimed request id is remembered
const DefaultTTL = 24 * time.Hour

const keyPrefix = "ledger:request:"

// RedisDeduplicator claims request ids with SET NX so concurrent instances
// agree on which one runs a request
type RedisDeduplicator struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisDeduplicator creates a deduplicator; ttl <= 0 uses DefaultTTL
func NewRedisDeduplicator(client redis.UniversalClient, ttl time.Duration) *RedisDeduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisDeduplicator{client: client, ttl: ttl}
}

// Claim returns true when key was not claimed yet
func (d *RedisDeduplicator) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", key, err)
	}
	return ok, nil
}

// Release forgets key
func (d *RedisDeduplicator) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection
func (d *RedisDeduplicator) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}
