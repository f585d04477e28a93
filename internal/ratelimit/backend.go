package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend increments a named counter that expires after ttl.
type Backend interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Name() string
}

// RedisBackend counts in Redis. INCR and EXPIRE run in one MULTI/EXEC so a
// counter never outlives its window.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend wraps a Redis client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// Name identifies the backend in status output.
func (b *RedisBackend) Name() string { return "redis" }

// Increment implements Backend.
func (b *RedisBackend) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ratelimit: redis increment: %w", err)
	}
	return incr.Val(), nil
}

// Ping reports whether Redis answers.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
