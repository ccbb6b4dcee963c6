// Package metrics provides the centralized Prometheus registry reference for
// bulkops. All metrics are defined in their respective packages (store,
// cache, ratelimit, bulk, staging) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by bulkops.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - cardapi_rate_limit_remaining (Gauge): Requests remaining in the current budget window
//   - cardapi_rate_limit_blocks_total (Counter): Requests blocked due to critical budget
//   - cardapi_rate_limit_throttles_total (Counter): Requests throttled due to warning budget
//
// Cache Metrics (pkg/cache):
//   - cardapi_cache_hits_total{layer="redis"} (Counter): List-page cache hits by layer
//   - cardapi_cache_misses_total (Counter): List-page cache misses
//   - cardapi_cache_invalidations_total (Counter): Keyspace purges after mutations
//   - cardapi_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/store):
//   - cardapi_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - cardapi_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - cardapi_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/store):
//   - cardapi_retries_total{error_class} (Counter): Retry attempts by error class
//   - cardapi_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - cardapi_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Executor Metrics (pkg/bulk):
//   - bulkops_items_total{action, result} (Counter): Items processed by action and result
//   - bulkops_chunk_duration_seconds{action} (Histogram): Chunk duration by action
//   - bulkops_runs_total{action} (Counter): Executor runs by action
//
// Staging Metrics (pkg/staging):
//   - bulkops_staged_entities (Gauge): Entities currently staged for deletion
//   - bulkops_batches_resolved_total{outcome} (Counter): Batches resolved, committed or undone
//   - bulkops_undos_total{scope} (Counter): Undo operations by scope (entity, batch)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(cardapi_cache_hits_total[5m])) /
//   (sum(rate(cardapi_cache_hits_total[5m])) + sum(rate(cardapi_cache_misses_total[5m])))
//
//   # Partial-Failure Rate of Bulk Deletes
//   rate(bulkops_items_total{action="delete",result="failed"}[5m]) /
//   rate(bulkops_items_total{action="delete"}[5m])
//
//   # Trash Depth
//   bulkops_staged_entities
//
//   # P95 Chunk Latency
//   histogram_quantile(0.95, rate(bulkops_chunk_duration_seconds_bucket[5m]))
