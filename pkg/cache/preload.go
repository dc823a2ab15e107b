package cache

import (
	"context"

	"github.com/Sternrassler/jsoncache/pkg/batch"
)

// PreloadCriticalJSONs fetches paths in parallel and stores every success.
// Failures are skipped; one failing path never affects the others.
func (m *Manager) PreloadCriticalJSONs(ctx context.Context, fetcher batch.ItemFetcher, paths []string) {
	if len(paths) == 0 {
		return
	}

	keys := make([]string, 0, len(paths))
	tickets := make(map[string]Ticket, len(paths))
	for _, p := range paths {
		key := NormalizePath(p)
		if _, ok := tickets[key]; ok {
			continue
		}
		keys = append(keys, key)
		tickets[key] = m.BeginFetch()
	}

	outcomes := batch.NewFetcher(fetcher, m.config.Preload).FetchAll(ctx, keys)

	loaded := 0
	for key, outcome := range outcomes {
		if !outcome.OK() {
			m.logger.Debug().Err(outcome.Err).Str("path", key).Msg("Preload skipped")
			continue
		}
		if _, ok := m.StoreFetched(key, outcome.Data, tickets[key]); ok {
			loaded++
		}
	}

	m.logger.Info().
		Int("requested", len(keys)).
		Int("loaded", loaded).
		Msg("Preloaded critical resources")
}
