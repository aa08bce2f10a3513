// Package metrics provides the Prometheus registry and exposition handler for usersvc.
// All metrics are defined in their respective packages (fanout, store, cache,
// retry, api) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by usersvc.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects everything registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Fan-out Metrics (pkg/fanout):
//   - fanout_batches_total{mode, result} (Counter): Batches by policy mode and result (completed, aborted, cancelled, invalid)
//   - fanout_batch_duration_seconds{mode} (Histogram): Wall time of FetchAll
//   - fanout_items_total{status} (Counter): Items by status (success, failure, timed_out, cancelled)
//   - fanout_item_duration_seconds (Histogram): Per-item time from dispatch to outcome
//   - fanout_in_flight (Gauge): Fetches currently holding a permit
//
// Store Metrics (pkg/store):
//   - store_operations_total{operation, result} (Counter): Store operations by result (ok, not_found, error)
//   - store_operation_duration_seconds{operation} (Histogram): Store operation latency
//
// Cache Metrics (pkg/cache):
//   - cache_hits_total{namespace} (Counter): Cache hits
//   - cache_misses_total{namespace} (Counter): Cache misses
//   - cache_bytes_written_total (Counter): Bytes written to Redis
//   - cache_errors_total{operation} (Counter): Cache operation errors
//
// Retry Metrics (pkg/retry):
//   - retry_attempts_total{error_class} (Counter): Retry attempts by error class
//   - retry_backoff_seconds (Histogram): Backoff duration before a retry
//   - retry_exhausted_total (Counter): Operations that exhausted max attempts
//
// HTTP Metrics (pkg/api):
//   - http_requests_total{route, method, code} (Counter): Requests by mux pattern
//   - http_request_duration_seconds{route} (Histogram): Request latency
//
// Example Prometheus Queries:
//
//   # Share of batch items dropped or failed
//   sum(rate(fanout_items_total{status!="success"}[5m])) / sum(rate(fanout_items_total[5m]))
//
//   # Saturation of the concurrency limit
//   max_over_time(fanout_in_flight[1m])
//
//   # Cache Hit Rate
//   sum(rate(cache_hits_total[5m])) /
//   (sum(rate(cache_hits_total[5m])) + sum(rate(cache_misses_total[5m])))
//
//   # P95 Batch Latency
//   histogram_quantile(0.95, rate(fanout_batch_duration_seconds_bucket[5m]))
