package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for fetch operations.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jsoncache_fetch_requests_total",
		Help: "Total origin fetches by status",
	}, []string{"status"})

	fetchRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jsoncache_fetch_duration_seconds",
		Help:    "Origin fetch duration in seconds by fetcher",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"fetcher"})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jsoncache_fetch_errors_total",
		Help: "Total fetch errors by class",
	}, []string{"class"})

	fetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jsoncache_fetch_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	fetchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jsoncache_fetch_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// HTTPFetcher fetches JSON resources from a same-origin HTTP endpoint.
type HTTPFetcher struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// NewHTTPFetcher creates a new HTTP fetcher.
func NewHTTPFetcher(cfg Config, logger zerolog.Logger) (*HTTPFetcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logger.With().Str("fetcher", "http").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (f *HTTPFetcher) SetHTTPClient(client *http.Client) {
	f.httpClient = client
}

// Fetch issues GET <BaseURL>/<key> forcing revalidation of intermediary caches.
// A 404 yields ErrNotFound; other failures are returned as *FetchError after
// retries of server and network errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, key string) (any, error) {
	url := f.config.BaseURL + "/" + strings.TrimLeft(key, "/")

	startTime := time.Now()
	defer func() {
		fetchRequestDuration.WithLabelValues("http").Observe(time.Since(startTime).Seconds())
	}()

	var data any
	err := retryWithBackoff(ctx, f.config.Retry, func() (ErrorClass, error) {
		var attemptErr error
		data, attemptErr = f.attempt(ctx, key, url)
		if attemptErr == nil {
			return "", nil
		}

		var fe *FetchError
		if errors.As(attemptErr, &fe) {
			return fe.ErrorClass, attemptErr
		}
		return "", attemptErr
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

// attempt performs a single request.
func (f *HTTPFetcher) attempt(ctx context.Context, key, url string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if f.config.UserAgent != "" {
		req.Header.Set("User-Agent", f.config.UserAgent)
	}

	f.logger.Debug().Str("key", key).Str("url", url).Msg("Fetching resource")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		fetchRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, &FetchError{
			Key:        key,
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	fetchRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotFound {
		f.logger.Debug().Str("key", key).Msg("Resource not found at origin")
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errClass := classifyStatus(resp.StatusCode)
		fetchErrorsTotal.WithLabelValues(string(errClass)).Inc()
		f.logger.Warn().
			Str("key", key).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Origin returned error status")
		return nil, &FetchError{
			Key:        key,
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &FetchError{
			Key:        key,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}

	data, err := decodeJSON(key, body)
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, err
	}
	return data, nil
}

// classifyStatus categorizes a non-success status code.
func classifyStatus(status int) ErrorClass {
	if status >= 500 {
		return ErrorClassServer
	}
	return ErrorClassClient
}

// decodeJSON parses a response body into a generic JSON value.
func decodeJSON(key string, body []byte) (any, error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &FetchError{
			Key:        key,
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassDecode,
			Message:    "invalid json",
			Err:        err,
		}
	}
	return data, nil
}
