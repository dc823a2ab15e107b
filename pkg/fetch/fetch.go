// Package fetch provides the resource fetchers used to load JSON documents
// from their origin: an HTTP client for remote origins and a file reader for
// local content directories.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Fetcher loads a decoded JSON resource by its normalized key.
// Implementations return ErrNotFound when the resource does not exist.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (any, error)
}

// Mode selects the fetcher implementation.
type Mode string

const (
	// ModeHTTP fetches from a remote origin over HTTP.
	ModeHTTP Mode = "http"

	// ModeFile reads from a local content directory.
	ModeFile Mode = "file"
)

// Config holds the fetcher configuration.
type Config struct {
	Mode Mode

	// BaseURL is the origin for ModeHTTP, e.g. "https://example.com".
	BaseURL string

	// Root is the content directory for ModeFile.
	Root string

	// UserAgent is sent with every HTTP request.
	UserAgent string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	Retry RetryConfig
}

// DefaultConfig returns a default HTTP fetcher configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		Mode:      ModeHTTP,
		BaseURL:   baseURL,
		UserAgent: "jsoncache/0.1.0",
		Timeout:   10 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// New creates the fetcher selected by cfg.Mode.
func New(cfg Config, logger zerolog.Logger) (Fetcher, error) {
	switch cfg.Mode {
	case ModeHTTP, "":
		return NewHTTPFetcher(cfg, logger)
	case ModeFile:
		return NewFileFetcher(cfg.Root, logger)
	default:
		return nil, fmt.Errorf("unknown fetch mode %q", cfg.Mode)
	}
}
