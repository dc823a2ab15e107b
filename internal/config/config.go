// Package config loads jsoncache-server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/jsoncache/pkg/fetch"
	"github.com/Sternrassler/jsoncache/pkg/logging"
	"github.com/joho/godotenv"
)

// Config holds the server configuration.
type Config struct {
	// HTTP listener
	ListenAddr      string
	ShutdownTimeout time.Duration

	// Redis; an empty REDIS_ADDR disables it and so does a failed ping at
	// startup, after which the server runs standalone
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	BroadcastChannel string
	RegistryKey      string

	// Content origin
	SourceMode   fetch.Mode
	OriginURL    string
	ContentRoot  string
	UserAgent    string
	FetchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// Cache
	CacheTTL           time.Duration
	PreloadPaths       []string
	PreloadConcurrency int

	// Logging
	LogLevel  string
	LogPretty bool

	// InstanceID identifies this process in broadcasts; generated when empty
	InstanceID string
}

// Load reads .env files (missing files are ignored) and then the environment.
// Variables already set in the environment take precedence over .env values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg := &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		RedisAddr:        lookupEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getEnvAsInt("REDIS_DB", 0),
		BroadcastChannel: getEnv("BROADCAST_CHANNEL", "jsoncache:updates"),
		RegistryKey:      getEnv("REGISTRY_KEY", "jsoncache:versions"),

		SourceMode:   fetch.Mode(strings.ToLower(getEnv("SOURCE_MODE", string(fetch.ModeFile)))),
		OriginURL:    strings.TrimSpace(os.Getenv("ORIGIN_URL")),
		ContentRoot:  getEnv("CONTENT_ROOT", "./content"),
		UserAgent:    getEnv("USER_AGENT", "jsoncache/0.1.0"),
		FetchTimeout: getEnvAsDuration("FETCH_TIMEOUT", 10*time.Second),
		MaxRetries:   getEnvAsInt("FETCH_MAX_RETRIES", 3),
		RetryBackoff: getEnvAsDuration("FETCH_RETRY_BACKOFF", 200*time.Millisecond),

		CacheTTL:           getEnvAsDuration("CACHE_TTL", 5*time.Minute),
		PreloadPaths:       getEnvAsSlice("PRELOAD_PATHS", nil),
		PreloadConcurrency: getEnvAsInt("PRELOAD_CONCURRENCY", 4),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),

		InstanceID: strings.TrimSpace(os.Getenv("INSTANCE_ID")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.SourceMode {
	case fetch.ModeHTTP:
		if c.OriginURL == "" {
			return fmt.Errorf("ORIGIN_URL is required when SOURCE_MODE=%s", fetch.ModeHTTP)
		}
	case fetch.ModeFile:
		if c.ContentRoot == "" {
			return fmt.Errorf("CONTENT_ROOT is required when SOURCE_MODE=%s", fetch.ModeFile)
		}
	default:
		return fmt.Errorf("invalid SOURCE_MODE %q (want http or file)", c.SourceMode)
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("FETCH_MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.PreloadConcurrency < 1 {
		return fmt.Errorf("PRELOAD_CONCURRENCY must be at least 1, got %d", c.PreloadConcurrency)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// FetchConfig returns the fetcher configuration derived from c.
func (c *Config) FetchConfig() fetch.Config {
	cfg := fetch.DefaultConfig(c.OriginURL)
	cfg.Mode = c.SourceMode
	cfg.Root = c.ContentRoot
	cfg.UserAgent = c.UserAgent
	cfg.Timeout = c.FetchTimeout
	cfg.Retry.MaxAttempts = c.MaxRetries
	cfg.Retry.InitialBackoff = c.RetryBackoff
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnv is getEnv for variables where an explicit empty value is meaningful.
func lookupEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return defaultValue
	}
}

// getEnvAsDuration accepts Go durations ("30s") or plain seconds ("30").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
