package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WarmerConfig holds warmup worker-pool configuration.
type WarmerConfig struct {
	// MaxConcurrency is the maximum number of keys populated in parallel.
	MaxConcurrency int

	// Timeout bounds a single key's producer invocation.
	Timeout time.Duration
}

// DefaultWarmerConfig returns safe defaults.
func DefaultWarmerConfig() WarmerConfig {
	return WarmerConfig{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// ProducerResolver maps a cache key to its configured producer. Returns
// false for keys with no registered producer; those keys are skipped.
type ProducerResolver func(key string) (Producer, bool)

// WarmResult summarizes one warmup run.
type WarmResult struct {
	Requested int
	Populated int
	Skipped   int
	Failed    int
	Duration  time.Duration
}

// Warmer pre-populates cache entries by invoking each key's configured
// producer through the single-flight fetcher, so a warmup racing with live
// traffic for the same key still performs exactly one upstream call.
type Warmer struct {
	store   Store
	fetcher *Fetcher
	resolve ProducerResolver
	config  WarmerConfig
	logger  zerolog.Logger
}

// NewWarmer creates a warmer writing through the given store.
func NewWarmer(store Store, fetcher *Fetcher, resolve ProducerResolver, cfg WarmerConfig, logger zerolog.Logger) *Warmer {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultWarmerConfig().MaxConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWarmerConfig().Timeout
	}
	return &Warmer{
		store:   store,
		fetcher: fetcher,
		resolve: resolve,
		config:  cfg,
		logger:  logger,
	}
}

// Accepted returns how many of keys have a registered producer, without
// fetching anything. The warmup endpoint reports this count before the
// background population starts.
func (w *Warmer) Accepted(keys []string) int {
	n := 0
	for _, key := range keys {
		if _, ok := w.resolve(key); ok {
			n++
		}
	}
	return n
}

// Warm populates the given keys using a bounded worker pool and blocks
// until every key has settled.
func (w *Warmer) Warm(ctx context.Context, keys []string) WarmResult {
	start := time.Now()
	result := WarmResult{Requested: len(keys)}
	if len(keys) == 0 {
		return result
	}

	keyQueue := make(chan string, len(keys))
	for _, key := range keys {
		keyQueue <- key
	}
	close(keyQueue)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < w.config.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range keyQueue {
				select {
				case <-ctx.Done():
					return
				default:
				}

				outcome := w.warmKey(ctx, key)
				mu.Lock()
				switch outcome {
				case warmPopulated:
					result.Populated++
				case warmSkipped:
					result.Skipped++
				case warmFailed:
					result.Failed++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	result.Duration = time.Since(start)
	if result.Failed > 0 {
		w.logger.Warn().
			Int("requested", result.Requested).
			Int("populated", result.Populated).
			Int("failed", result.Failed).
			Dur("duration", result.Duration).
			Msg("Cache warmup completed with failures")
	} else {
		w.logger.Info().
			Int("requested", result.Requested).
			Int("populated", result.Populated).
			Int("skipped", result.Skipped).
			Dur("duration", result.Duration).
			Msg("Cache warmup completed")
	}
	return result
}

// WarmAsync kicks off population in the background and returns the number
// of keys accepted for warming.
func (w *Warmer) WarmAsync(keys []string) int {
	accepted := w.Accepted(keys)
	go w.Warm(context.Background(), keys)
	return accepted
}

type warmOutcome int

const (
	warmPopulated warmOutcome = iota
	warmSkipped
	warmFailed
)

func (w *Warmer) warmKey(ctx context.Context, key string) warmOutcome {
	producer, ok := w.resolve(key)
	if !ok {
		w.logger.Debug().Str("key", key).Msg("No producer registered for key, skipping warmup")
		return warmSkipped
	}

	keyCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	entry, _, err := w.fetcher.Fetch(keyCtx, key, producer)
	if err != nil {
		w.logger.Warn().Err(err).Str("key", key).Msg("Warmup fetch failed")
		return warmFailed
	}

	if err := w.store.Set(keyCtx, key, entry); err != nil {
		w.logger.Warn().Err(err).Str("key", key).Msg("Warmup store write failed")
		return warmFailed
	}
	return warmPopulated
}
