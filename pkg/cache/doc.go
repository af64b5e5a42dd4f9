// Package cache implements the tiered caching layer for chess statistics.
//
// The layer is built from small pieces that compose into one read path:
//
//   - Key: deterministic, namespace-partitioned cache key construction
//   - Store: the uniform get/set/delete/invalidate contract
//   - RedisStore: distributed backend, shared across processes
//   - MemoryStore: process-local bounded LRU backend
//   - Tiered: supervisor that picks the active backend and degrades
//     from distributed to local without changing caller semantics
//   - Fetcher: single-flight protection for cache-miss fetches
//   - Warmer: bounded-concurrency cache pre-population
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	store := cache.NewTiered(cache.TieredConfig{
//		Redis:  redisClient,
//		Local:  cache.NewMemoryStore(cache.DefaultMemoryConfig()),
//	}, logger)
//
//	key := cache.Key{
//		Namespace: "player",
//		Path:      "magnus/stats",
//	}
//
//	entry, err := store.Get(ctx, key.String())
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Fetch from the upstream provider
//	}
//
// Expiry is enforced on read: an entry is never returned past its TTL even
// if no background sweep has run. The background sweep in MemoryStore only
// reclaims memory earlier.
//
// A value that fails to deserialize is deleted and treated as a miss, so a
// corrupt entry can never poison the read path.
package cache
