// Package metrics exposes the Prometheus registry and scrape handler.
// Collectors are defined in their respective packages (cache, ratelimit,
// upstream) via promauto to stay modular and avoid circular dependencies;
// this package documents the catalog.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry. All collectors register
// automatically through promauto in their packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - chess_cache_hits_total{backend} (Counter): cache hits by backend
//   - chess_cache_misses_total (Counter): cache misses
//   - chess_cache_errors_total{operation} (Counter): cache operation errors
//   - chess_cache_evictions_total (Counter): local store LRU evictions
//   - chess_cache_fallbacks_total (Counter): operations served locally after a distributed error
//   - chess_cache_distributed_available (Gauge): 1 while the distributed backend is active
//   - chess_cache_singleflight_shared_total (Counter): fetch results shared with waiters
//
// Rate Limit Metrics (pkg/ratelimit):
//   - chess_provider_queue_depth{provider} (Gauge): pending jobs per provider
//   - chess_provider_paused{provider} (Gauge): 1 while a queue is paused
//   - chess_provider_dispatches_total{provider, outcome} (Counter): dispatches by outcome
//   - chess_provider_pauses_total{provider} (Counter): throttle-triggered pauses
//   - chess_provider_backoff_seconds{provider} (Histogram): backoff applied per pause
//
// Upstream Metrics (pkg/upstream):
//   - chess_upstream_requests_total{provider, status} (Counter): requests by status
//   - chess_upstream_request_duration_seconds{provider} (Histogram): request duration
//   - chess_upstream_errors_total{class} (Counter): errors by class
//   - chess_upstream_retries_total{error_class} (Counter): retry attempts
//   - chess_upstream_retry_backoff_seconds{error_class} (Histogram): retry backoff
//   - chess_upstream_retry_exhausted_total{error_class} (Counter): exhausted retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(chess_cache_hits_total[5m])) /
//   (sum(rate(chess_cache_hits_total[5m])) + sum(rate(chess_cache_misses_total[5m])))
//
//   # Degraded to local store?
//   chess_cache_distributed_available == 0
//
//   # Paused providers
//   chess_provider_paused == 1
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(chess_upstream_request_duration_seconds_bucket[5m]))
