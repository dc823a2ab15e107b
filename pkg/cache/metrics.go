package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jsoncache_cache_hits_total",
			Help: "Total number of fresh cache hits",
		},
	)

	// CacheMisses tracks lookups that found no fresh entry
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jsoncache_cache_misses_total",
			Help: "Total number of cache misses (absent or expired)",
		},
	)

	// CacheEntries tracks the number of resident entries
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jsoncache_cache_entries",
			Help: "Current number of cache entries, fresh or stale",
		},
	)

	// Invalidations tracks explicit invalidations
	Invalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jsoncache_invalidations_total",
			Help: "Total number of explicit cache invalidations",
		},
	)

	// DiscardedWrites tracks fetch results dropped because newer data arrived first
	DiscardedWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jsoncache_discarded_writes_total",
			Help: "Total number of out-of-order fetch results discarded",
		},
	)

	// NotifyErrors tracks failed worker notifications
	NotifyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsoncache_notify_errors_total",
			Help: "Total number of failed best-effort notifications",
		},
		[]string{"target"}, // "worker", "broadcast", "registry"
	)
)
