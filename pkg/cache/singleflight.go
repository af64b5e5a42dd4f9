package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Producer produces a fresh entry for a key on cache miss.
type Producer func(ctx context.Context) (*Entry, error)

// Fetcher collapses concurrent misses for the same key into one producer
// invocation. All waiters receive the same result, success or error, and
// the in-flight marker is cleared the moment the fetch settles.
//
// Cross-process stampedes are not prevented here; the per-provider rate
// limiter bounds the damage when multiple processes miss at once.
type Fetcher struct {
	group singleflight.Group
}

// NewFetcher creates a single-flight fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{}
}

// Fetch runs producer for key unless a fetch for the same key is already in
// flight, in which case the caller attaches to it. Returns the entry and
// whether the result was shared with other callers.
//
// The producer runs on the context of the caller that started the flight.
// Callers whose waiters may outlive the originating request should pass a
// context detached from request cancellation.
func (f *Fetcher) Fetch(ctx context.Context, key string, producer Producer) (*Entry, bool, error) {
	v, err, shared := f.group.Do(key, func() (interface{}, error) {
		return producer(ctx)
	})
	if shared {
		SingleFlightShared.Inc()
	}
	if err != nil {
		return nil, shared, err
	}
	return v.(*Entry), shared, nil
}

// Forget removes any in-flight marker for key so the next Fetch starts a
// new flight. Used when a caller knows the pending result is already stale.
func (f *Fetcher) Forget(key string) {
	f.group.Forget(key)
}
