// Package upstream provides the HTTP clients for the chess-data providers,
// with per-provider rate limiting, retry, and error classification.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/budapestdude/stats-sub007/pkg/ratelimit"
)

// Prometheus metrics for provider requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chess_upstream_requests_total",
		Help: "Total provider requests by provider and status",
	}, []string{"provider", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chess_upstream_request_duration_seconds",
		Help:    "Provider request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"provider"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chess_upstream_errors_total",
		Help: "Total provider errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// ChessComBaseURL is the chess.com public API base (no trailing slash).
	ChessComBaseURL string

	// LichessBaseURL is the lichess API base (no trailing slash).
	LichessBaseURL string

	// UserAgent identifies this service to the providers.
	UserAgent string

	// Timeout bounds a single provider HTTP request. A timeout counts as a
	// failure but never pauses the provider queue.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		ChessComBaseURL: "https://api.chess.com/pub",
		LichessBaseURL:  "https://lichess.org/api",
		UserAgent:       userAgent,
		Timeout:         15 * time.Second,
	}
}

// Client fetches chess data from the providers. Every request goes through
// the per-provider rate limiter, so concurrency and pacing are bounded even
// under a cache stampede from multiple processes.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// New creates a provider client.
func New(cfg Config, limiter *ratelimit.Limiter, logger zerolog.Logger) (*Client, error) {
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig(cfg.UserAgent).Timeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Fetch performs a GET against a provider endpoint through its rate-limit
// queue and returns the response body. The path is relative to the
// provider's base URL.
func (c *Client) Fetch(ctx context.Context, provider ratelimit.Provider, path string, params url.Values) ([]byte, error) {
	return c.limiter.Submit(ctx, provider, func(jobCtx context.Context) ([]byte, error) {
		return c.fetchDirect(jobCtx, provider, path, params)
	})
}

// fetchDirect executes the request with retry for transient failures.
// Server and network errors retry in place; a throttle signal returns
// immediately so the limiter pauses the queue; client errors are final.
func (c *Client) fetchDirect(ctx context.Context, provider ratelimit.Provider, path string, params url.Values) ([]byte, error) {
	endpoint, err := c.endpointURL(provider, path, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
	}()

	var body []byte
	retryErr := retryWithBackoff(ctx, c.logger, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, reqErr := c.httpClient.Do(req)
		if reqErr != nil {
			c.logger.Warn().Err(reqErr).Str("endpoint", endpoint).Msg("Provider request failed")
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(string(provider), "network_error").Inc()
			return &Error{
				Provider: provider,
				Class:    ErrorClassNetwork,
				Message:  "request failed",
				Err:      reqErr,
			}
		}
		defer resp.Body.Close()

		requestsTotal.WithLabelValues(string(provider), fmt.Sprintf("%d", resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			class := classifyStatus(resp)
			errorsTotal.WithLabelValues(string(class)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(class)).
				Msg("Provider request error")

			return &Error{
				Provider:   provider,
				StatusCode: resp.StatusCode,
				Class:      class,
				Message:    resp.Status,
			}
		}

		var readErr error
		body, readErr = io.ReadAll(resp.Body)
		if readErr != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return &Error{
				Provider: provider,
				Class:    ErrorClassNetwork,
				Message:  "read response body",
				Err:      readErr,
			}
		}
		return nil
	}, classifyError)

	if retryErr != nil {
		return nil, retryErr
	}
	return body, nil
}

func (c *Client) endpointURL(provider ratelimit.Provider, path string, params url.Values) (string, error) {
	var base string
	switch provider {
	case ratelimit.ProviderChessCom:
		base = c.config.ChessComBaseURL
	case ratelimit.ProviderLichess:
		base = c.config.LichessBaseURL
	default:
		return "", fmt.Errorf("%w: %s", ratelimit.ErrUnknownProvider, provider)
	}

	endpoint := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return endpoint, nil
}

// classifyStatus categorizes an HTTP error status. The throttling signal is
// recognized regardless of exact representation: 429, or the 503-with-
// Retry-After shape some providers use under load.
func classifyStatus(resp *http.Response) ErrorClass {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassThrottle
	case resp.StatusCode == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") != "":
		return ErrorClassThrottle
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// classifyError reports the class of an error produced by fetchDirect.
func classifyError(err error) ErrorClass {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.Class
	}
	return ErrorClassNetwork
}

// IsThrottle reports whether err carries a provider throttling signal.
func IsThrottle(err error) bool {
	return errors.Is(err, ratelimit.ErrThrottled)
}
