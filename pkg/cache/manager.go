package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/jsoncache/pkg/batch"
	"github.com/Sternrassler/jsoncache/pkg/message"
	"github.com/rs/zerolog"
)

// DefaultTTL is how long an entry stays fresh.
const DefaultTTL = 5 * time.Minute

// WorkerNotifier receives best-effort cache notifications, e.g. connected
// WebSocket clients holding their own copy of the resources.
type WorkerNotifier interface {
	PostMessage(ctx context.Context, msg message.Message) error
}

// Config holds the cache manager configuration.
type Config struct {
	// TTL is how long an entry counts as fresh.
	TTL time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Notifier receives INVALIDATE_JSON_CACHE messages. Optional.
	Notifier WorkerNotifier

	// Preload configures PreloadCriticalJSONs.
	Preload batch.Config
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL:     DefaultTTL,
		Now:     time.Now,
		Preload: batch.DefaultConfig(),
	}
}

// Ticket marks the point in the write sequence at which a fetch started.
type Ticket uint64

// Stats is a diagnostic snapshot of the cache.
type Stats struct {
	// TotalEntries counts every resident entry, including expired entries
	// that are only kept as stale fallback.
	TotalEntries int `json:"totalEntries"`

	// ValidEntries counts entries that are still fresh.
	ValidEntries int      `json:"validEntries"`
	OldestEntry  int64    `json:"oldestEntry"`
	NewestEntry  int64    `json:"newestEntry"`
	CachePaths   []string `json:"cachePaths"`
}

// Manager owns the in-memory mapping from resource path to cache entry.
// It is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	// seq advances on every fetch start and every mutation. barriers holds,
	// per path, the ticket of the latest stored fetch or the seq of the latest
	// direct write or invalidate; floor is the seq of the last ClearAll.
	seq      uint64
	barriers map[string]uint64
	floor    uint64

	config Config
	logger zerolog.Logger
}

// NewManager creates a new cache manager.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		entries:  make(map[string]*Entry),
		barriers: make(map[string]uint64),
		config:   cfg,
		logger:   logger,
	}
}

// Now returns the current time of the manager's clock.
func (m *Manager) Now() time.Time {
	return m.config.Now()
}

// TTL returns the configured freshness window.
func (m *Manager) TTL() time.Duration {
	return m.config.TTL
}

// GenerateVersion returns a new version token for content.
func (m *Manager) GenerateVersion(content any) string {
	return generateVersion(content, m.config.Now())
}

// GetVersion returns the version token stored for path.
func (m *Manager) GetVersion(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[path]
	if !ok {
		return "", false
	}
	return entry.Version, true
}

// SetVersion stores data under path with a freshly generated version token
// and returns the token.
func (m *Manager) SetVersion(path string, data any) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.barriers[path] = m.seq
	return m.storeLocked(path, data)
}

// SetCachedData is an alias of SetVersion.
func (m *Manager) SetCachedData(path string, data any) string {
	return m.SetVersion(path, data)
}

// BeginFetch returns a ticket to pass to StoreFetched once a fetch completes.
// Tickets are unique and increase in the order fetches start.
func (m *Manager) BeginFetch() Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	return Ticket(m.seq)
}

// StoreFetched stores the result of a fetch that started at ticket. The latest
// started fetch wins: the write is discarded if a later-started fetch was
// already stored, if path was written directly or invalidated after the fetch
// started, or if the cache was cleared. In that case it returns false.
func (m *Manager) StoreFetched(path string, data any, ticket Ticket) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if uint64(ticket) < m.floor || uint64(ticket) < m.barriers[path] {
		DiscardedWrites.Inc()
		m.logger.Debug().
			Str("path", path).
			Uint64("ticket", uint64(ticket)).
			Msg("Discarding out-of-order fetch result")
		return "", false
	}

	m.barriers[path] = uint64(ticket)
	return m.storeLocked(path, data), true
}

func (m *Manager) storeLocked(path string, data any) string {
	now := m.config.Now()
	ts := now.UnixMilli()
	if prev, ok := m.entries[path]; ok && ts <= prev.Timestamp {
		ts = prev.Timestamp + 1
	}

	version := generateVersion(data, now)
	m.entries[path] = &Entry{
		Path:      path,
		Version:   version,
		Timestamp: ts,
		Data:      data,
	}

	CacheEntries.Set(float64(len(m.entries)))

	m.logger.Debug().
		Str("path", path).
		Str("version", version).
		Msg("Cached resource")

	return version
}

// AdoptVersion replaces the version token of the existing entry for path,
// keeping its data and timestamp. It is used to align the local token with
// the one published by the instance that performed the edit.
func (m *Manager) AdoptVersion(path, version string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[path]
	if !ok {
		return false
	}
	entry.Version = version
	return true
}

// InvalidateCache removes the entry for path and notifies the worker, if one
// is configured. Notification failures are logged, never returned.
func (m *Manager) InvalidateCache(ctx context.Context, path string) {
	m.mu.Lock()
	delete(m.entries, path)
	m.seq++
	m.barriers[path] = m.seq
	CacheEntries.Set(float64(len(m.entries)))
	m.mu.Unlock()

	Invalidations.Inc()
	m.logger.Debug().Str("path", path).Msg("Invalidated cache entry")

	if m.config.Notifier == nil {
		return
	}

	msg := message.New(message.TypeInvalidateJSONCache, path, m.config.Now())
	if err := m.config.Notifier.PostMessage(ctx, msg); err != nil {
		NotifyErrors.WithLabelValues("worker").Inc()
		m.logger.Warn().Err(err).Str("path", path).Msg("Failed to notify worker of invalidation")
	}
}

// GetCachedData returns the payload for path if a fresh entry exists.
// Expired entries are reported as absent but kept for GetStale.
func (m *Manager) GetCachedData(path string) (any, bool) {
	m.mu.RLock()
	entry, ok := m.entries[path]
	m.mu.RUnlock()

	if !ok || !entry.IsFresh(m.config.Now(), m.config.TTL) {
		CacheMisses.Inc()
		return nil, false
	}

	CacheHits.Inc()
	return entry.Data, true
}

// GetEntry returns a copy of the fresh entry for path.
func (m *Manager) GetEntry(path string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[path]
	if !ok || !entry.IsFresh(m.config.Now(), m.config.TTL) {
		return Entry{}, false
	}
	return *entry, true
}

// GetStale returns a copy of the entry for path regardless of its age.
func (m *Manager) GetStale(path string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// NeedsUpdate reports whether the local version of path differs from
// serverVersion or is missing.
func (m *Manager) NeedsUpdate(path, serverVersion string) bool {
	local, ok := m.GetVersion(path)
	return !ok || local != serverVersion
}

// GetCacheStats returns a diagnostic snapshot.
func (m *Manager) GetCacheStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.config.Now()
	stats := Stats{
		TotalEntries: len(m.entries),
		CachePaths:   make([]string, 0, len(m.entries)),
	}

	for path, entry := range m.entries {
		stats.CachePaths = append(stats.CachePaths, path)
		if entry.IsFresh(now, m.config.TTL) {
			stats.ValidEntries++
		}
		if stats.OldestEntry == 0 || entry.Timestamp < stats.OldestEntry {
			stats.OldestEntry = entry.Timestamp
		}
		if entry.Timestamp > stats.NewestEntry {
			stats.NewestEntry = entry.Timestamp
		}
	}
	sort.Strings(stats.CachePaths)

	return stats
}

// ClearAll removes every entry and discards the results of in-flight fetches.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*Entry)
	m.barriers = make(map[string]uint64)
	m.seq++
	m.floor = m.seq
	CacheEntries.Set(0)

	m.logger.Info().Msg("Cache cleared")
}
