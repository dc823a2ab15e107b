// Package propagate pushes content edits to every consumer of the cache:
// the local cache is refreshed, peer instances are told over a broadcast
// channel, and connected workers are notified.
package propagate

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/jsoncache/pkg/cache"
	"github.com/Sternrassler/jsoncache/pkg/message"
	"github.com/Sternrassler/jsoncache/pkg/reader"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// VersionPublisher records the current version of a path for other instances.
type VersionPublisher interface {
	Publish(ctx context.Context, path, version string) error
}

// Config holds the propagator configuration.
type Config struct {
	// Origin identifies this instance in broadcasts. Defaults to a random UUID.
	Origin string

	// Registry receives the version of every refreshed path. Optional.
	Registry VersionPublisher

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a configuration with a fresh instance origin.
func DefaultConfig() Config {
	return Config{
		Origin: uuid.NewString(),
		Now:    time.Now,
	}
}

// Propagator runs the edit flow for a single instance.
type Propagator struct {
	manager     *cache.Manager
	reader      *reader.Reader
	broadcaster Broadcaster
	notifier    cache.WorkerNotifier
	config      Config
	logger      zerolog.Logger
}

// New creates a propagator. broadcaster and notifier are optional.
func New(manager *cache.Manager, rdr *reader.Reader, broadcaster Broadcaster, notifier cache.WorkerNotifier, cfg Config, logger zerolog.Logger) (*Propagator, error) {
	if manager == nil {
		return nil, fmt.Errorf("cache manager is required")
	}
	if rdr == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if cfg.Origin == "" {
		cfg.Origin = uuid.NewString()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Propagator{
		manager:     manager,
		reader:      rdr,
		broadcaster: broadcaster,
		notifier:    notifier,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Origin returns the instance id stamped on outgoing broadcasts.
func (p *Propagator) Origin() string {
	return p.config.Origin
}

// InvalidateOnEdit drops the cached copy of path, refetches it from the
// origin and announces the update. The refreshed result is returned.
// The broadcast carries path exactly as given.
func (p *Propagator) InvalidateOnEdit(ctx context.Context, path string) reader.Result {
	key := cache.NormalizePath(path)

	p.manager.InvalidateCache(ctx, key)
	res := p.reader.Refresh(ctx, key)

	msg := message.New(message.TypeJSONUpdated, path, p.config.Now())
	msg.Origin = p.config.Origin

	if p.broadcaster != nil {
		if err := p.broadcaster.Publish(ctx, msg); err != nil {
			cache.NotifyErrors.WithLabelValues("broadcast").Inc()
			p.logger.Warn().Err(err).Str("path", key).Msg("Failed to broadcast update")
		}
	}

	if p.notifier != nil {
		if err := p.notifier.PostMessage(ctx, msg); err != nil {
			cache.NotifyErrors.WithLabelValues("worker").Inc()
			p.logger.Warn().Err(err).Str("path", key).Msg("Failed to notify worker of update")
		}
	}

	// Degraded results were not stored, so there is no new version to publish.
	if p.config.Registry != nil && !res.Degraded() && res.Version != "" {
		if err := p.config.Registry.Publish(ctx, key, res.Version); err != nil {
			cache.NotifyErrors.WithLabelValues("registry").Inc()
			p.logger.Warn().Err(err).Str("path", key).Msg("Failed to publish version")
		}
	}

	p.logger.Info().
		Str("path", key).
		Str("version", res.Version).
		Str("source", string(res.Source)).
		Msg("Propagated content edit")

	return res
}
