// Package stats aggregates cache and rate-limit counters into the snapshot
// served by the administrative endpoints. Recording is increment-only atomic
// counters so the hot path never pays an aggregation cost; derived metrics
// (hit rate, block rate, uptime) are computed at snapshot time to avoid
// incremental drift.
package stats

import (
	"sync/atomic"
	"time"
)

// Collector accumulates monotonic counters. All Record methods are safe for
// concurrent use. Counters reset only on process restart.
type Collector struct {
	start time.Time

	hits    atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
	writes  atomic.Int64
	deletes atomic.Int64

	blocked atomic.Int64
	passed  atomic.Int64
}

// NewCollector creates a collector; uptime is measured from this call.
func NewCollector() *Collector {
	return &Collector{start: time.Now()}
}

// RecordHit records a cache hit.
func (c *Collector) RecordHit() { c.hits.Add(1) }

// RecordMiss records a cache miss.
func (c *Collector) RecordMiss() { c.misses.Add(1) }

// RecordError records a cache-layer error.
func (c *Collector) RecordError() { c.errors.Add(1) }

// RecordWrite records a cache write.
func (c *Collector) RecordWrite() { c.writes.Add(1) }

// RecordDeletes records n removed entries.
func (c *Collector) RecordDeletes(n int) { c.deletes.Add(int64(n)) }

// RecordBlocked records a job that arrived while its provider was paused.
func (c *Collector) RecordBlocked() { c.blocked.Add(1) }

// RecordPassed records a job dispatched to a provider.
func (c *Collector) RecordPassed() { c.passed.Add(1) }

// ProviderState is the point-in-time state of one provider queue, supplied
// by the rate limiter at snapshot time. The per-provider counters live on
// the queues themselves; this package only aggregates them.
type ProviderState struct {
	Name      string
	Success   int64
	Failed    int64
	Queued    int64
	QueueSize int
	IsPaused  bool
}

// Snapshot is the aggregate served by GET /cache/stats.
type Snapshot struct {
	Cache     CacheSnapshot     `json:"cache"`
	RateLimit RateLimitSnapshot `json:"rateLimit"`
}

// CacheSnapshot summarizes cache-side counters.
type CacheSnapshot struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Errors        int64   `json:"errors"`
	Writes        int64   `json:"writes"`
	Deletes       int64   `json:"deletes"`
	HitRate       float64 `json:"hitRate"`
	UptimeSeconds float64 `json:"uptime"`
	Backend       string  `json:"backend"`
	Available     bool    `json:"available"`
}

// RateLimitSnapshot summarizes rate-limiter counters.
type RateLimitSnapshot struct {
	Blocked     int64                       `json:"blocked"`
	Passed      int64                       `json:"passed"`
	Queued      int64                       `json:"queued"`
	BlockRate   float64                     `json:"blockRate"`
	PerProvider map[string]ProviderSnapshot `json:"perProvider"`
}

// ProviderSnapshot summarizes one provider queue.
type ProviderSnapshot struct {
	Success   int64 `json:"success"`
	Failed    int64 `json:"failed"`
	QueueSize int   `json:"queueSize"`
	IsPaused  bool  `json:"isPaused"`
}

// TakeSnapshot computes derived metrics at read time. The caller supplies
// the active backend name, its availability, and provider queue states.
func (c *Collector) TakeSnapshot(backend string, available bool, providers []ProviderState) Snapshot {
	hits := c.hits.Load()
	misses := c.misses.Load()
	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	blocked := c.blocked.Load()
	passed := c.passed.Load()
	blockRate := 0.0
	if total := blocked + passed; total > 0 {
		blockRate = float64(blocked) / float64(total)
	}

	perProvider := make(map[string]ProviderSnapshot, len(providers))
	var queued int64
	for _, p := range providers {
		queued += p.Queued
		perProvider[p.Name] = ProviderSnapshot{
			Success:   p.Success,
			Failed:    p.Failed,
			QueueSize: p.QueueSize,
			IsPaused:  p.IsPaused,
		}
	}

	return Snapshot{
		Cache: CacheSnapshot{
			Hits:          hits,
			Misses:        misses,
			Errors:        c.errors.Load(),
			Writes:        c.writes.Load(),
			Deletes:       c.deletes.Load(),
			HitRate:       hitRate,
			UptimeSeconds: time.Since(c.start).Seconds(),
			Backend:       backend,
			Available:     available,
		},
		RateLimit: RateLimitSnapshot{
			Blocked:     blocked,
			Passed:      passed,
			Queued:      queued,
			BlockRate:   blockRate,
			PerProvider: perProvider,
		},
	}
}
