package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FileFetcher reads JSON resources from a local content directory. It is the
// server-side counterpart of HTTPFetcher: the key maps to <Root>/<key>.
type FileFetcher struct {
	root   string
	logger zerolog.Logger
}

// NewFileFetcher creates a fetcher rooted at dir.
func NewFileFetcher(root string, logger zerolog.Logger) (*FileFetcher, error) {
	if root == "" {
		return nil, fmt.Errorf("content root is required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve content root: %w", err)
	}

	return &FileFetcher{
		root:   abs,
		logger: logger.With().Str("fetcher", "file").Logger(),
	}, nil
}

// Fetch reads and decodes the file for key.
func (f *FileFetcher) Fetch(ctx context.Context, key string) (any, error) {
	startTime := time.Now()
	defer func() {
		fetchRequestDuration.WithLabelValues("file").Observe(time.Since(startTime).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Key: key, ErrorClass: ErrorClassNetwork, Message: "cancelled", Err: err}
	}

	path, err := f.resolve(key)
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
		return nil, err
	}

	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fetchRequestsTotal.WithLabelValues("404").Inc()
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		fetchErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return nil, &FetchError{Key: key, ErrorClass: ErrorClassServer, Message: "read file", Err: err}
	}

	data, err := decodeJSON(key, body)
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, err
	}

	fetchRequestsTotal.WithLabelValues("200").Inc()
	f.logger.Debug().Str("key", key).Str("file", path).Msg("Read resource from disk")
	return data, nil
}

// resolve maps key to a file below root, rejecting keys that escape it.
func (f *FileFetcher) resolve(key string) (string, error) {
	rel := filepath.FromSlash(strings.TrimLeft(key, "/"))
	path := filepath.Join(f.root, rel)

	if path != f.root && !strings.HasPrefix(path, f.root+string(filepath.Separator)) {
		return "", &FetchError{Key: key, ErrorClass: ErrorClassClient, Message: "path escapes content root"}
	}
	return path, nil
}
