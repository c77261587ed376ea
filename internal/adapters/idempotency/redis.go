package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces idempotency records in a shared Redis.
const keyPrefix = "flume:idem:"

// RedisStore implements Store on Redis. SET NX with TTL gives the
// atomic put-if-absent the at-least-once contract needs, and Redis
// expiry bounds record lifetime without a sweeper.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOption applies a configuration option to the RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL sets the record lifetime.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewRedisStore creates a Redis-backed idempotency store.
func NewRedisStore(addr string, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(id string) string { return keyPrefix + id }

// Seen reports whether id has a live record.
func (s *RedisStore) Seen(ctx context.Context, id string) (bool, error) {
	_, err := s.client.Get(ctx, key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("idempotency seen %s: %w", id, err)
	}
	return true, nil
}

// PutIfAbsent records id with SET NX and the configured TTL.
func (s *RedisStore) PutIfAbsent(ctx context.Context, id string, rec Record) (bool, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("idempotency encode %s: %w", id, err)
	}
	inserted, err := s.client.SetNX(ctx, key(id), value, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency put %s: %w", id, err)
	}
	return inserted, nil
}

// Forget drops the record for id.
func (s *RedisStore) Forget(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("idempotency forget %s: %w", id, err)
	}
	return nil
}

// Size counts live records. SCAN keeps this usable on shared
// instances, at the cost of being approximate under concurrent writes.
func (s *RedisStore) Size(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 1000).Result()
		if err != nil {
			return 0, fmt.Errorf("idempotency size: %w", err)
		}
		total += int64(len(keys))
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
