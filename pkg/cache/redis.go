package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// scanBatchSize bounds a single SCAN round trip during pattern invalidation.
const scanBatchSize = 200

// RedisStore is the distributed cache backend. It is shared across processes
// and authoritative when reachable. Values are stored as JSON envelopes with
// a Redis TTL, but expiry is also checked on read so a clock-skewed or
// TTL-less entry is never returned stale.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{client: client}
}

// Ping checks connectivity to the backend.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get retrieves an entry by key.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Self-heal: a corrupt value is deleted and treated as a miss.
		CacheErrors.WithLabelValues("decode").Inc()
		_ = s.client.Del(ctx, key).Err()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = s.client.Del(ctx, key).Err()
		return nil, ErrCacheMiss
	}

	return &entry, nil
}

// Set stores an entry with a Redis TTL matching the entry's remaining TTL.
func (s *RedisStore) Set(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// InvalidatePattern removes all keys matching a glob pattern via SCAN.
// All matching keys are collected before any deletion so no reader observes
// a half-deleted pattern set longer than one DEL round trip. On failure the
// returned InvalidationError carries the count already removed.
func (s *RedisStore) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			CacheErrors.WithLabelValues("invalidate").Inc()
			return 0, &InvalidationError{Pattern: pattern, Err: fmt.Errorf("redis scan: %w", err)}
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	deleted := 0
	for i := 0; i < len(keys); i += scanBatchSize {
		end := i + scanBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		n, err := s.client.Del(ctx, keys[i:end]...).Result()
		deleted += int(n)
		if err != nil {
			CacheErrors.WithLabelValues("invalidate").Inc()
			return deleted, &InvalidationError{Pattern: pattern, Deleted: deleted, Err: fmt.Errorf("redis del: %w", err)}
		}
	}

	return deleted, nil
}

// Clear removes every key in a namespace.
func (s *RedisStore) Clear(ctx context.Context, namespace string) (int, error) {
	return s.InvalidatePattern(ctx, NamespacePattern(namespace))
}

// Backend identifies the store.
func (s *RedisStore) Backend() string {
	return BackendDistributed
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
