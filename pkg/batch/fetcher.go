package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel fetches.
	MaxConcurrency int

	// Timeout bounds each individual fetch.
	Timeout time.Duration
}

// DefaultConfig returns the default batch configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        10 * time.Second,
	}
}

// ItemFetcher fetches a single resource by key.
type ItemFetcher interface {
	Fetch(ctx context.Context, key string) (any, error)
}

// Outcome is the settled result for one key.
type Outcome struct {
	Key  string
	Data any
	Err  error
}

// OK reports whether the fetch succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Fetcher runs fetches for many keys through a worker pool.
type Fetcher struct {
	fetcher ItemFetcher
	config  Config
}

// NewFetcher creates a new batch fetcher. Zero config values fall back to defaults.
func NewFetcher(fetcher ItemFetcher, config Config) *Fetcher {
	defaults := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	return &Fetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAll fetches every key and returns one outcome per distinct key.
// Failures are recorded in the outcome; the batch always runs to completion
// unless ctx is cancelled, in which case unstarted keys settle with ctx.Err().
func (f *Fetcher) FetchAll(ctx context.Context, keys []string) map[string]Outcome {
	start := time.Now()
	results := make(map[string]Outcome, len(keys))

	if len(keys) == 0 {
		return results
	}

	queue := make(chan string, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		queue <- key
	}
	close(queue)

	workers := f.config.MaxConcurrency
	if workers > len(seen) {
		workers = len(seen)
	}

	outcomes := make(chan Outcome, len(seen))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go f.worker(ctx, queue, outcomes, &wg, i)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	failed := 0
	for outcome := range outcomes {
		if !outcome.OK() {
			failed++
		}
		results[outcome.Key] = outcome
	}

	log.Debug().
		Int("keys", len(seen)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch settled")

	return results
}

// worker processes keys from the queue until it is drained.
func (f *Fetcher) worker(ctx context.Context, queue <-chan string, outcomes chan<- Outcome, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for key := range queue {
		if err := ctx.Err(); err != nil {
			outcomes <- Outcome{Key: key, Err: err}
			continue
		}

		itemCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
		data, err := f.fetcher.Fetch(itemCtx, key)
		cancel()

		if err != nil {
			log.Debug().
				Err(err).
				Int("worker_id", workerID).
				Str("key", key).
				Msg("Batch item failed")
		}

		outcomes <- Outcome{Key: key, Data: data, Err: err}
	}
}
