package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by backend (distributed, local)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chess_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chess_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chess_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "decode", "invalidate"
	)

	// CacheEvictions tracks LRU evictions in the local store
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chess_cache_evictions_total",
			Help: "Total number of local store LRU evictions",
		},
	)

	// CacheFallbacks tracks distributed-store operations served locally
	CacheFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chess_cache_fallbacks_total",
			Help: "Total number of operations that fell back to the local store",
		},
	)

	// CacheBackendAvailable reports whether the distributed backend is active
	CacheBackendAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chess_cache_distributed_available",
			Help: "1 when the distributed backend is active, 0 when degraded to local",
		},
	)

	// SingleFlightShared tracks fetches that were shared between callers
	SingleFlightShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chess_cache_singleflight_shared_total",
			Help: "Total number of fetch results shared with additional waiters",
		},
	)
)
