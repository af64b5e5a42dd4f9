package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates the requested key was not found or has expired.
	// Callers cannot tell the two cases apart.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored value failed to deserialize.
	// Stores delete the bad entry and report a miss; this error only
	// surfaces through metrics and logs.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Backend names reported by stores and surfaced in response headers.
const (
	BackendDistributed = "distributed"
	BackendLocal       = "local"
)

// Store is the uniform contract both cache backends implement.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves an entry. Returns ErrCacheMiss when the key was never
	// set or has expired; expired entries are deleted lazily on read.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores an entry for the duration of its TTL. An entry whose TTL
	// has already elapsed is not stored.
	Set(ctx context.Context, key string, entry *Entry) error

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// InvalidatePattern removes every key matching the pattern and
	// returns the number removed. Only the '*' wildcard is supported
	// (e.g., "player:alice/*"); patterns using other glob
	// metacharacters have no defined behavior across backends.
	InvalidatePattern(ctx context.Context, pattern string) (int, error)

	// Clear removes every key in a namespace and returns the number removed.
	Clear(ctx context.Context, namespace string) (int, error)

	// Backend identifies the store ("distributed" or "local").
	Backend() string

	// Close releases resources.
	Close() error
}

// InvalidationError reports a pattern invalidation that partially failed.
// Deleted carries the count of entries successfully removed before the
// failure; it is never silently swallowed.
type InvalidationError struct {
	Pattern string
	Deleted int
	Err     error
}

// Error implements the error interface.
func (e *InvalidationError) Error() string {
	return "invalidate " + e.Pattern + ": " + e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *InvalidationError) Unwrap() error {
	return e.Err
}
