// Package cache provides the in-memory versioned JSON cache.
//
// The manager maps a normalized resource path to an Entry holding the decoded
// payload, a short version token and the refresh timestamp:
//
//   - Entries are fresh for the configured TTL (default 5 minutes)
//   - Expired entries are hidden from fresh reads but kept as stale fallback
//   - Entries leave the cache only through InvalidateCache or ClearAll
//   - Version tokens are change markers, not content hashes
//
// # Basic Usage
//
//	manager := cache.NewManager(cache.DefaultConfig(), logger)
//
//	version := manager.SetCachedData("json/home", map[string]any{"title": "X"})
//
//	if data, ok := manager.GetCachedData("json/home"); ok {
//		// fresh hit
//	}
//
// # Ordering
//
// Fetch results are stored through BeginFetch/StoreFetched. Every fetch gets
// a ticket in start order and the latest started fetch wins: a result is
// discarded if a later-started fetch was already stored, or if the path was
// written directly or invalidated after the fetch began. A slow request can
// never overwrite newer content, whichever order the fetches complete in.
//
// # Metrics
//
//   - jsoncache_cache_hits_total - Fresh hits
//   - jsoncache_cache_misses_total - Absent or expired lookups
//   - jsoncache_cache_entries - Resident entries
//   - jsoncache_invalidations_total - Explicit invalidations
//   - jsoncache_discarded_writes_total - Out-of-order fetch results dropped
//   - jsoncache_notify_errors_total{target} - Failed best-effort notifications
package cache
