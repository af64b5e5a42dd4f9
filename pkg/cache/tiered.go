package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TieredConfig configures the tiered store supervisor.
type TieredConfig struct {
	// Redis is the distributed backend client. Nil means local-only mode.
	Redis redis.UniversalClient

	// Local is the in-process fallback store. Required.
	Local *MemoryStore

	// RetryInterval is how often distributed connectivity is re-checked
	// after an outage. Defaults to 15s.
	RetryInterval time.Duration

	// FailureThreshold is the number of consecutive distributed-store
	// errors before the supervisor declares an outage and degrades to
	// local-only mode. A single transient error only falls back for that
	// one operation. Defaults to 3.
	FailureThreshold int
}

// Tiered presents the two backends behind one Store. The distributed store
// is authoritative while reachable; a transient error falls back to the
// local store for that single operation, and a sustained outage swaps the
// active backend until background connectivity checks succeed again.
// Callers never see the distinction beyond the Backend name in stats.
type Tiered struct {
	distributed *RedisStore // nil in local-only mode
	local       *MemoryStore
	logger      zerolog.Logger

	available    atomic.Bool
	consecFails  atomic.Int64
	failLimit    int64
	retryEvery   time.Duration
	stopRetry    chan struct{}
	stopOnce     sync.Once
	retryRunning bool
}

// NewTiered creates the supervisor. Distributed initialization is attempted
// immediately; on failure the store starts in local-only mode and keeps
// retrying connectivity in the background.
func NewTiered(cfg TieredConfig, logger zerolog.Logger) *Tiered {
	if cfg.Local == nil {
		panic("local store cannot be nil")
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 15 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}

	t := &Tiered{
		local:      cfg.Local,
		logger:     logger,
		failLimit:  int64(cfg.FailureThreshold),
		retryEvery: cfg.RetryInterval,
		stopRetry:  make(chan struct{}),
	}

	if cfg.Redis == nil {
		t.logger.Info().Msg("No distributed backend configured, running local-only")
		CacheBackendAvailable.Set(0)
		return t
	}

	t.distributed = NewRedisStore(cfg.Redis)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.distributed.Ping(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("Distributed backend unreachable at startup, degrading to local")
		t.setAvailable(false)
	} else {
		t.setAvailable(true)
	}

	t.retryRunning = true
	go t.retryLoop()

	return t
}

// Get retrieves an entry from the active backend.
func (t *Tiered) Get(ctx context.Context, key string) (*Entry, error) {
	entry, _, err := t.GetWithSource(ctx, key)
	return entry, err
}

// GetWithSource retrieves an entry and reports which backend served it.
// A corrupt distributed entry has already been deleted by the backend and
// is reported as a miss so the caller re-fetches fresh data.
func (t *Tiered) GetWithSource(ctx context.Context, key string) (*Entry, string, error) {
	if t.distributedActive() {
		entry, err := t.distributed.Get(ctx, key)
		switch {
		case err == nil:
			t.noteSuccess()
			return entry, BackendDistributed, nil
		case errors.Is(err, ErrCacheMiss):
			t.noteSuccess()
			return nil, BackendDistributed, ErrCacheMiss
		case errors.Is(err, ErrInvalidEntry):
			t.noteSuccess()
			return nil, BackendDistributed, ErrCacheMiss
		default:
			t.noteFailure("get", err)
		}
	}

	entry, err := t.local.Get(ctx, key)
	return entry, BackendLocal, err
}

// Set stores an entry in the active backend, falling back to local on a
// distributed error.
func (t *Tiered) Set(ctx context.Context, key string, entry *Entry) error {
	if t.distributedActive() {
		if err := t.distributed.Set(ctx, key, entry); err != nil {
			t.noteFailure("set", err)
		} else {
			t.noteSuccess()
			return nil
		}
	}
	return t.local.Set(ctx, key, entry)
}

// Delete removes a key from both backends so a local fallback copy cannot
// outlive an invalidation.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	var distErr error
	if t.distributedActive() {
		if distErr = t.distributed.Delete(ctx, key); distErr != nil {
			t.noteFailure("delete", distErr)
		} else {
			t.noteSuccess()
		}
	}
	if err := t.local.Delete(ctx, key); err != nil {
		return err
	}
	return distErr
}

// InvalidatePattern removes matching keys from both backends. The returned
// count is from the authoritative backend (distributed while available,
// local otherwise); the other backend is cleared as well so no stale copy
// survives. A partial distributed failure is reported with the count of
// entries already removed.
func (t *Tiered) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	localCount, _ := t.local.InvalidatePattern(ctx, pattern)

	if t.distributedActive() {
		count, err := t.distributed.InvalidatePattern(ctx, pattern)
		if err != nil {
			t.noteFailure("invalidate", err)
			return count, err
		}
		t.noteSuccess()
		return count, nil
	}

	return localCount, nil
}

// Clear removes every key in a namespace from both backends.
func (t *Tiered) Clear(ctx context.Context, namespace string) (int, error) {
	return t.InvalidatePattern(ctx, NamespacePattern(namespace))
}

// Backend identifies the currently active backend.
func (t *Tiered) Backend() string {
	if t.distributedActive() {
		return BackendDistributed
	}
	return BackendLocal
}

// Available reports whether the distributed backend is currently active.
func (t *Tiered) Available() bool {
	return t.available.Load()
}

// Close stops the connectivity checker and closes both backends.
func (t *Tiered) Close() error {
	t.stopOnce.Do(func() { close(t.stopRetry) })
	var err error
	if t.distributed != nil {
		err = t.distributed.Close()
	}
	if lerr := t.local.Close(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}

func (t *Tiered) distributedActive() bool {
	return t.distributed != nil && t.available.Load()
}

func (t *Tiered) setAvailable(up bool) {
	t.available.Store(up)
	t.consecFails.Store(0)
	if up {
		CacheBackendAvailable.Set(1)
	} else {
		CacheBackendAvailable.Set(0)
	}
}

func (t *Tiered) noteSuccess() {
	t.consecFails.Store(0)
}

// noteFailure records a distributed-store error. The operation that hit it
// falls back to local; only a streak of failures flips the active backend.
func (t *Tiered) noteFailure(op string, err error) {
	CacheFallbacks.Inc()
	fails := t.consecFails.Add(1)
	t.logger.Warn().
		Err(err).
		Str("operation", op).
		Int64("consecutive_failures", fails).
		Msg("Distributed store error, serving operation from local store")

	if fails >= t.failLimit && t.available.Load() {
		t.logger.Error().
			Int64("consecutive_failures", fails).
			Msg("Distributed store outage detected, degrading to local-only")
		t.setAvailable(false)
	}
}

// retryLoop re-checks distributed connectivity while degraded.
func (t *Tiered) retryLoop() {
	ticker := time.NewTicker(t.retryEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if t.available.Load() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := t.distributed.Ping(ctx)
			cancel()
			if err != nil {
				t.logger.Debug().Err(err).Msg("Distributed store still unreachable")
				continue
			}
			t.logger.Info().Msg("Distributed store reachable again, resuming distributed mode")
			t.setAvailable(true)
		case <-t.stopRetry:
			return
		}
	}
}
