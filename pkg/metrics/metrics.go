// Package metrics exposes the Prometheus metrics of jsoncache.
// Metrics are defined in the packages that record them (cache, reader,
// fetch, propagate, registry, notify) and registered via promauto.
//
// This package serves them and documents what is available.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all jsoncache metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer Handler reads from.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - jsoncache_cache_hits_total (Counter): Fresh cache hits
//   - jsoncache_cache_misses_total (Counter): Lookups without a fresh entry
//   - jsoncache_cache_entries (Gauge): Resident entries, fresh or stale
//   - jsoncache_invalidations_total (Counter): Explicit invalidations
//   - jsoncache_discarded_writes_total (Counter): Out-of-order fetch results dropped
//   - jsoncache_notify_errors_total{target} (Counter): Failed notifications (worker, broadcast, registry)
//
// Read Metrics (pkg/reader):
//   - jsoncache_read_results_total{source} (Counter): Reads by source (cache, network, stale, empty, not_found)
//   - jsoncache_shared_fetches_total (Counter): Reads that joined an in-flight fetch
//
// Fetch Metrics (pkg/fetch):
//   - jsoncache_fetch_requests_total{status} (Counter): Origin requests by HTTP status
//   - jsoncache_fetch_duration_seconds{fetcher} (Histogram): Fetch duration by fetcher (http, file)
//   - jsoncache_fetch_errors_total{class} (Counter): Errors by class (client, server, network, decode)
//   - jsoncache_fetch_retries_total{error_class} (Counter): Retry attempts
//   - jsoncache_fetch_retry_exhausted_total{error_class} (Counter): Fetches that exhausted retries
//
// Propagation Metrics (pkg/propagate, pkg/registry, pkg/notify):
//   - jsoncache_broadcasts_published_total (Counter): Update messages published
//   - jsoncache_broadcasts_received_total{origin} (Counter): Update messages received (self, peer)
//   - jsoncache_broadcasts_dropped_total (Counter): Messages dropped for slow subscribers or bad payloads
//   - jsoncache_registry_errors_total{operation} (Counter): Version registry failures
//   - jsoncache_ws_connections (Gauge): Connected notification clients
//   - jsoncache_ws_messages_sent_total (Counter): Notifications queued to clients
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(jsoncache_cache_hits_total[5m])) /
//   (sum(rate(jsoncache_cache_hits_total[5m])) + sum(rate(jsoncache_cache_misses_total[5m])))
//
//   # Degraded Read Rate
//   sum(rate(jsoncache_read_results_total{source=~"stale|empty"}[5m])) /
//   sum(rate(jsoncache_read_results_total[5m]))
//
//   # P95 Origin Latency
//   histogram_quantile(0.95, rate(jsoncache_fetch_duration_seconds_bucket[5m]))
//
//   # Instances Missing Broadcasts
//   increase(jsoncache_notify_errors_total{target="broadcast"}[15m]) > 0
