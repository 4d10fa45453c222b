// Package metrics provides the Prometheus registry for the cache worker and
// a DDSketch latency tracker for per-strategy quantiles.
//
// All Prometheus metrics are defined in their respective packages (cache,
// fetch, strategy, precache, worker, background) to maintain modularity and avoid
// circular dependencies. This package documents them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the worker.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry served on /_sw/metrics.
var Gatherer = prometheus.DefaultGatherer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - sw_cache_hits_total{partition} (Counter): Partition lookups that found an entry
//   - sw_cache_misses_total{partition} (Counter): Partition lookups that found nothing
//   - sw_cache_puts_total{partition} (Counter): Entries written
//   - sw_cache_size_bytes{partition} (Gauge): Approximate partition size
//   - sw_cache_errors_total{operation} (Counter): Storage operation errors
//
// Fetch Metrics (pkg/fetch):
//   - sw_fetch_requests_total{status} (Counter): Network fetches by HTTP status or failure kind
//   - sw_fetch_duration_seconds{host} (Histogram): Network fetch duration by host
//   - sw_fetch_errors_total{class} (Counter): Errors by class (client, server, network, timeout)
//   - sw_fetch_retries_total{error_class} (Counter): Install-time retry attempts
//   - sw_fetch_retry_backoff_seconds{error_class} (Histogram): Backoff duration
//   - sw_fetch_retry_exhausted_total{error_class} (Counter): Fetches that exhausted retries
//
// Strategy Metrics (pkg/strategy):
//   - sw_strategy_requests_total{strategy, source} (Counter): Responses by strategy and source (network, cache, fallback)
//   - sw_strategy_errors_total{strategy} (Counter): Requests that ended in a propagated failure
//   - sw_strategy_duration_seconds{strategy} (Histogram): Time to produce a response
//   - sw_strategy_stale_total{strategy} (Counter): Stale entries served after a network failure
//
// Lifecycle Metrics (pkg/worker):
//   - sw_lifecycle_transitions_total{state} (Counter): Worker state transitions
//   - sw_lifecycle_partitions_deleted_total (Counter): Obsolete partitions deleted on activate
//   - sw_lifecycle_evictions_total (Counter): Entries evicted by sweeps
//   - sw_lifecycle_messages_total{type} (Counter): Control messages and sync tags handled
//
// Precache Metrics (pkg/precache):
//   - sw_lifecycle_precache_total{partition, result} (Counter): Install pre-population outcomes
//
// Background Metrics (pkg/background):
//   - sw_background_tasks_total{task, result} (Counter): Background task outcomes
//   - sw_background_tasks_in_flight (Gauge): Running background tasks
//   - sw_background_task_duration_seconds{task} (Histogram): Background task duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(sw_cache_hits_total[5m])) /
//   (sum(rate(sw_cache_hits_total[5m])) + sum(rate(sw_cache_misses_total[5m])))
//
//   # Offline Serving Rate
//   sum(rate(sw_strategy_requests_total{source!="network"}[5m])) /
//   sum(rate(sw_strategy_requests_total[5m]))
//
//   # Failed Revalidations
//   rate(sw_background_tasks_total{task="revalidate", result!="ok"}[5m])
//
//   # P95 Network-First Latency
//   histogram_quantile(0.95, rate(sw_strategy_duration_seconds_bucket{strategy="network-first"}[5m]))
