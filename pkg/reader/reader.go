// Package reader is the single entry point for obtaining a named JSON
// resource. It hides the cache/network decision and never fails: a missing
// or unreachable resource degrades to stale data or an empty object.
package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/jsoncache/pkg/cache"
	"github.com/Sternrassler/jsoncache/pkg/fetch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	readResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jsoncache_read_results_total",
		Help: "Total reads by result source",
	}, []string{"source"})

	sharedFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jsoncache_shared_fetches_total",
		Help: "Total reads served by joining an in-flight fetch",
	})
)

// Source describes where the data of a Result came from.
type Source string

const (
	// SourceCache is a fresh cache hit; no fetch was made.
	SourceCache Source = "cache"

	// SourceNetwork is data fetched from the origin during this call.
	SourceNetwork Source = "network"

	// SourceNotFound means the origin reported the resource absent; Data is {}.
	SourceNotFound Source = "not_found"

	// SourceStale is an expired cache entry served because the fetch failed.
	SourceStale Source = "stale"

	// SourceEmpty is the final fallback; Data is {}.
	SourceEmpty Source = "empty"
)

// Result is the outcome of a read. It carries no error: every read yields data.
type Result struct {
	// Path is the normalized resource path.
	Path string `json:"path"`

	Data any `json:"data"`

	// Version is the cache version token, empty when nothing was cached.
	Version string `json:"version,omitempty"`

	Source Source `json:"source"`
}

// Degraded reports whether the result is a fallback for a failed fetch.
func (r Result) Degraded() bool {
	return r.Source == SourceStale || r.Source == SourceEmpty
}

// EmptyObject returns the value used for absent resources.
func EmptyObject() map[string]any {
	return map[string]any{}
}

// VersionLookup resolves the current server-side version of a path.
type VersionLookup interface {
	Lookup(ctx context.Context, path string) (string, error)
}

// Config holds the reader configuration.
type Config struct {
	// FetchTimeout bounds every origin fetch. A timeout is a fetch failure.
	FetchTimeout time.Duration

	// Registry is consulted by CheckForUpdate. Optional.
	Registry VersionLookup
}

// DefaultConfig returns the default reader configuration.
func DefaultConfig() Config {
	return Config{
		FetchTimeout: 10 * time.Second,
	}
}

// Reader serves JSON resources from the cache, fetching on miss.
type Reader struct {
	manager *cache.Manager
	fetcher fetch.Fetcher
	config  Config
	logger  zerolog.Logger

	// flights collapses concurrent misses of the same path into one fetch.
	flights singleflight.Group
}

// New creates a new reader.
func New(manager *cache.Manager, fetcher fetch.Fetcher, cfg Config, logger zerolog.Logger) (*Reader, error) {
	if manager == nil {
		return nil, fmt.Errorf("cache manager is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}

	return &Reader{
		manager: manager,
		fetcher: fetcher,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Read returns the resource at path, from cache when fresh, otherwise from
// the origin. Concurrent misses for the same path share one fetch.
// If ctx ends while waiting, the caller gets the fallback immediately; the
// shared fetch still completes and populates the cache.
func (r *Reader) Read(ctx context.Context, path string) Result {
	key := cache.NormalizePath(path)

	if entry, ok := r.manager.GetEntry(key); ok {
		cache.CacheHits.Inc()
		r.logger.Debug().Str("path", key).Bool("cache_hit", true).Msg("Serving from cache")
		return r.record(Result{Path: key, Data: entry.Data, Version: entry.Version, Source: SourceCache})
	}
	cache.CacheMisses.Inc()

	fetchCtx := context.WithoutCancel(ctx)
	ch := r.flights.DoChan(key, func() (any, error) {
		return r.fetchAndStore(fetchCtx, key), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			sharedFetchesTotal.Inc()
		}
		return r.record(res.Val.(Result))
	case <-ctx.Done():
		return r.record(r.fallback(key, ctx.Err()))
	}
}

// Refresh fetches path from the origin, bypassing the cache, and stores the
// result. It does not join in-flight reads, which may predate an edit.
func (r *Reader) Refresh(ctx context.Context, path string) Result {
	key := cache.NormalizePath(path)

	// Later reads must not join a flight that started before this refresh.
	r.flights.Forget(key)

	return r.record(r.fetchAndStore(ctx, key))
}

// CheckForUpdate compares the local version of path with the registered
// server version and refreshes when they differ. Without a registry, or when
// the registry is unreachable, it behaves like Read.
func (r *Reader) CheckForUpdate(ctx context.Context, path string) Result {
	key := cache.NormalizePath(path)
	if r.config.Registry == nil {
		return r.Read(ctx, key)
	}

	serverVersion, err := r.config.Registry.Lookup(ctx, key)
	if err != nil {
		r.logger.Debug().Err(err).Str("path", key).Msg("Version lookup failed, using cache")
		return r.Read(ctx, key)
	}

	if !r.manager.NeedsUpdate(key, serverVersion) {
		return r.Read(ctx, key)
	}

	r.logger.Debug().
		Str("path", key).
		Str("server_version", serverVersion).
		Msg("Server version changed, refreshing")

	res := r.Refresh(ctx, key)
	if res.Source == SourceNetwork && r.manager.AdoptVersion(key, serverVersion) {
		res.Version = serverVersion
	}
	return res
}

// fetchAndStore fetches key and stores the outcome, falling back on failure.
func (r *Reader) fetchAndStore(ctx context.Context, key string) Result {
	ticket := r.manager.BeginFetch()

	fetchCtx, cancel := context.WithTimeout(ctx, r.config.FetchTimeout)
	defer cancel()

	data, err := r.fetcher.Fetch(fetchCtx, key)
	switch {
	case err == nil:
		return r.store(key, data, ticket, SourceNetwork)

	case errors.Is(err, fetch.ErrNotFound):
		r.logger.Debug().Str("path", key).Msg("Resource absent, caching empty object")
		return r.store(key, EmptyObject(), ticket, SourceNotFound)

	default:
		return r.fallback(key, err)
	}
}

// store caches data unless newer content arrived while the fetch was running,
// in which case the newer entry is returned instead.
func (r *Reader) store(key string, data any, ticket cache.Ticket, source Source) Result {
	version, ok := r.manager.StoreFetched(key, data, ticket)
	if ok {
		return Result{Path: key, Data: data, Version: version, Source: source}
	}

	if entry, found := r.manager.GetEntry(key); found {
		return Result{Path: key, Data: entry.Data, Version: entry.Version, Source: SourceCache}
	}
	return Result{Path: key, Data: data, Source: source}
}

// fallback serves the stale entry for key, or an empty object.
func (r *Reader) fallback(key string, err error) Result {
	if entry, ok := r.manager.GetStale(key); ok {
		r.logger.Warn().
			Err(err).
			Str("path", key).
			Dur("age", entry.Age(r.manager.Now())).
			Msg("Fetch failed, serving stale cache entry")
		return Result{Path: key, Data: entry.Data, Version: entry.Version, Source: SourceStale}
	}

	r.logger.Warn().
		Err(err).
		Str("path", key).
		Msg("Fetch failed and nothing cached, serving empty object")
	return Result{Path: key, Data: EmptyObject(), Source: SourceEmpty}
}

func (r *Reader) record(res Result) Result {
	readResultsTotal.WithLabelValues(string(res.Source)).Inc()
	return res
}
