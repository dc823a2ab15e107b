// Command jsoncache-server serves cached JSON resources over HTTP and keeps
// the caches of all instances sharing a Redis channel up to date.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/jsoncache/internal/config"
	"github.com/Sternrassler/jsoncache/pkg/batch"
	"github.com/Sternrassler/jsoncache/pkg/cache"
	"github.com/Sternrassler/jsoncache/pkg/fetch"
	"github.com/Sternrassler/jsoncache/pkg/logging"
	"github.com/Sternrassler/jsoncache/pkg/notify"
	"github.com/Sternrassler/jsoncache/pkg/propagate"
	"github.com/Sternrassler/jsoncache/pkg/reader"
	"github.com/Sternrassler/jsoncache/pkg/registry"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	instance := cfg.InstanceID
	if instance == "" {
		instance = uuid.NewString()
	}

	logger := logging.Setup(logging.Config{
		Level:    logging.LogLevel(cfg.LogLevel),
		Pretty:   cfg.LogPretty,
		Output:   os.Stderr,
		Instance: instance,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, instance); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, instance string) error {
	logger := logging.NewLogger(logging.ComponentServer)

	redisClient := connectRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	s, err := newServer(ctx, cfg, instance, redisClient)
	if err != nil {
		return err
	}

	go func() {
		if err := s.subscriber.Run(ctx); err != nil {
			logger.Warn().Err(err).Msg("Update subscriber stopped")
		}
	}()

	if len(cfg.PreloadPaths) > 0 {
		s.manager.PreloadCriticalJSONs(ctx, s.fetcher, cfg.PreloadPaths)
	}

	return serve(ctx, cfg, s.routes(), logger)
}

// newServer wires the components of one instance. Without a Redis client
// broadcasts stay in-process and no version registry is used.
// The notification hub runs until ctx ends.
func newServer(ctx context.Context, cfg *config.Config, instance string, redisClient *redis.Client) (*server, error) {
	hub := notify.NewHub(logging.NewLogger(logging.ComponentNotify))
	go hub.Run(ctx)

	manager := cache.NewManager(cache.Config{
		TTL:      cfg.CacheTTL,
		Notifier: hub,
		Preload: batch.Config{
			MaxConcurrency: cfg.PreloadConcurrency,
			Timeout:        cfg.FetchTimeout,
		},
	}, logging.NewLogger(logging.ComponentCache))

	fetcher, err := fetch.New(cfg.FetchConfig(), logging.NewLogger(logging.ComponentFetch))
	if err != nil {
		return nil, err
	}

	readerCfg := reader.DefaultConfig()
	readerCfg.FetchTimeout = cfg.FetchTimeout
	propagateCfg := propagate.Config{Origin: instance}

	var broadcaster propagate.Broadcaster = propagate.NewMemoryBroadcaster()
	if redisClient != nil {
		broadcaster = propagate.NewRedisBroadcaster(redisClient, cfg.BroadcastChannel, logging.NewLogger(logging.ComponentPropagate))
		versions := registry.New(redisClient, cfg.RegistryKey)
		readerCfg.Registry = versions
		propagateCfg.Registry = versions
	}

	rdr, err := reader.New(manager, fetcher, readerCfg, logging.NewLogger(logging.ComponentReader))
	if err != nil {
		return nil, err
	}

	propagator, err := propagate.New(manager, rdr, broadcaster, hub, propagateCfg, logging.NewLogger(logging.ComponentPropagate))
	if err != nil {
		return nil, err
	}

	return &server{
		manager:    manager,
		reader:     rdr,
		fetcher:    fetcher,
		propagator: propagator,
		subscriber: propagate.NewSubscriber(manager, rdr, broadcaster, instance, logging.NewLogger(logging.ComponentPropagate)),
		hub:        hub,
		logger:     logging.NewLogger(logging.ComponentServer),
	}, nil
}

// connectRedis returns a connected client, or nil when Redis is disabled or
// unreachable.
func connectRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().
			Err(err).
			Str("addr", cfg.RedisAddr).
			Msg("Redis unreachable, running standalone with in-process broadcasts")
		client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	return client
}

func serve(ctx context.Context, cfg *config.Config, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("source_mode", string(cfg.SourceMode)).
			Dur("ttl", cfg.CacheTTL).
			Msg("Starting jsoncache server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	logger.Info().Msg("Shutting down")
	return srv.Shutdown(shutdownCtx)
}
