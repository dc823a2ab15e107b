// Package registry stores the latest server-side version token of every
// resource in Redis so instances can tell whether their copy is outdated.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis hash holding path -> version.
const DefaultKey = "jsoncache:versions"

var (
	// ErrNotFound indicates no version is registered for the path.
	ErrNotFound = errors.New("version not registered")

	registryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsoncache_registry_errors_total",
			Help: "Total number of version registry operation errors",
		},
		[]string{"operation"}, // "publish", "lookup", "remove", "all"
	)
)

// Registry is a Redis-backed map from resource path to version token.
type Registry struct {
	redis *redis.Client
	key   string
}

// New creates a registry stored under the given hash key.
// An empty key selects DefaultKey.
func New(redisClient *redis.Client, key string) *Registry {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultKey
	}
	return &Registry{
		redis: redisClient,
		key:   key,
	}
}

// Publish records version as the current server-side version of path.
func (r *Registry) Publish(ctx context.Context, path, version string) error {
	if err := r.redis.HSet(ctx, r.key, path, version).Err(); err != nil {
		registryErrors.WithLabelValues("publish").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Lookup returns the registered version of path.
// Returns ErrNotFound if none is registered.
func (r *Registry) Lookup(ctx context.Context, path string) (string, error) {
	version, err := r.redis.HGet(ctx, r.key, path).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrNotFound
		}
		registryErrors.WithLabelValues("lookup").Inc()
		return "", fmt.Errorf("redis hget: %w", err)
	}
	return version, nil
}

// Remove deletes the registered version of path.
func (r *Registry) Remove(ctx context.Context, path string) error {
	if err := r.redis.HDel(ctx, r.key, path).Err(); err != nil {
		registryErrors.WithLabelValues("remove").Inc()
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// All returns every registered path and version.
func (r *Registry) All(ctx context.Context) (map[string]string, error) {
	versions, err := r.redis.HGetAll(ctx, r.key).Result()
	if err != nil {
		registryErrors.WithLabelValues("all").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	return versions, nil
}
