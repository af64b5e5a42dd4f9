// Package middleware intercepts read-only HTTP requests with the tiered
// cache: hits short-circuit with the stored payload, misses run the
// downstream handler once per key (single-flight) and capture its response.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/budapestdude/stats-sub007/pkg/cache"
	"github.com/budapestdude/stats-sub007/pkg/stats"
)

// Response headers set on every cache-managed response.
const (
	HeaderCacheStatus  = "X-Cache"
	HeaderCacheBackend = "X-Cache-Backend"
	HeaderCacheKey     = "X-Cache-Key"
	HeaderCacheTTL     = "X-Cache-TTL"

	statusHit  = "HIT"
	statusMiss = "MISS"
)

// CacheStore is the store surface the middleware needs: the uniform Store
// contract plus per-read backend attribution for the response headers.
// *cache.Tiered satisfies it.
type CacheStore interface {
	cache.Store
	GetWithSource(ctx context.Context, key string) (*cache.Entry, string, error)
}

// Route configures caching for one route. Route owners choose what varies
// the cache via Key and can skip caching conditionally via Skip.
type Route struct {
	// Namespace partitions this route's keys and names its TTL class.
	Namespace string

	// TTL is how long captured responses stay fresh.
	TTL time.Duration

	// Key derives the cache key from the request. Nil means path + query.
	Key func(r *http.Request) cache.Key

	// Skip bypasses caching for requests it returns true for.
	Skip func(r *http.Request) bool
}

// Middleware wires routes into the cache layer.
type Middleware struct {
	store     CacheStore
	fetcher   *cache.Fetcher
	collector *stats.Collector
	logger    zerolog.Logger
}

// New creates the middleware.
func New(store CacheStore, fetcher *cache.Fetcher, collector *stats.Collector, logger zerolog.Logger) *Middleware {
	return &Middleware{
		store:     store,
		fetcher:   fetcher,
		collector: collector,
		logger:    logger,
	}
}

// Handler wraps next with caching per route. Only side-effect-free methods
// (GET, HEAD) are cached; everything else passes straight through.
func (m *Middleware) Handler(route Route, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		if route.Skip != nil && route.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := m.routeKey(route, r).String()

		entry, source, err := m.store.GetWithSource(r.Context(), key)
		if err == nil {
			m.collector.RecordHit()
			cache.CacheHits.WithLabelValues(source).Inc()
			m.writeEntry(w, r, entry, statusHit, source, key)
			return
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			// Degraded cache never fails the request; fall through to a
			// fresh fetch.
			m.collector.RecordError()
			m.logger.Warn().Err(err).Str("key", key).Msg("Cache read error, fetching fresh")
		}

		// The producer runs detached from this request's cancellation:
		// a disconnecting caller must not fail the fetch for attached
		// waiters. The miss is recorded inside the producer so N
		// concurrent misses for one key count once.
		prodCtx := context.WithoutCancel(r.Context())
		entry, _, err = m.fetcher.Fetch(prodCtx, key, func(ctx context.Context) (*cache.Entry, error) {
			m.collector.RecordMiss()
			cache.CacheMisses.Inc()

			rec := newRecorder()
			next.ServeHTTP(rec, r.WithContext(ctx))
			entry := rec.entry(route.TTL)

			// Only successful responses are cached; errors are delivered
			// to the callers but never stored. One Set per flight, no
			// matter how many waiters collapsed onto it.
			if entry.StatusCode >= 200 && entry.StatusCode < 300 && route.TTL > 0 {
				if setErr := m.store.Set(ctx, key, entry); setErr != nil {
					m.collector.RecordError()
					m.logger.Warn().Err(setErr).Str("key", key).Msg("Cache write failed")
				} else {
					m.collector.RecordWrite()
				}
			}
			return entry, nil
		})
		if err != nil {
			m.logger.Error().Err(err).Str("key", key).Msg("Downstream fetch failed")
			http.Error(w, "upstream fetch failed", http.StatusBadGateway)
			return
		}

		m.writeEntry(w, r, entry, statusMiss, m.store.Backend(), key)
	})
}

func (m *Middleware) routeKey(route Route, r *http.Request) cache.Key {
	if route.Key != nil {
		return route.Key(r)
	}
	return cache.Key{
		Namespace: route.Namespace,
		Path:      r.URL.Path,
		Params:    r.URL.Query(),
	}
}

func (m *Middleware) writeEntry(w http.ResponseWriter, r *http.Request, entry *cache.Entry, status, backend, key string) {
	h := w.Header()
	if entry.ContentType != "" {
		h.Set("Content-Type", entry.ContentType)
	}
	h.Set(HeaderCacheStatus, status)
	h.Set(HeaderCacheBackend, backend)
	h.Set(HeaderCacheKey, key)
	if ttl := entry.TTL(); ttl > 0 {
		h.Set(HeaderCacheTTL, strconv.Itoa(int(ttl.Seconds())))
	}

	w.WriteHeader(entry.StatusCode)
	if r.Method != http.MethodHead {
		if _, err := w.Write(entry.Data); err != nil {
			m.logger.Debug().Err(err).Str("key", key).Msg("Client gone before response write")
		}
	}
}
