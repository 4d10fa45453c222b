// Package fetch performs the worker's real network fetches: request
// decoration, error classification, metrics, and retry with backoff for
// install-time pre-population.
package fetch

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HeaderRequestID correlates an outbound fetch with proxy logs.
const HeaderRequestID = "X-Request-ID"

// Prometheus metrics for network fetches.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sw_fetch_requests_total",
		Help: "Total network fetches by HTTP status or failure kind",
	}, []string{"status"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sw_fetch_duration_seconds",
		Help:    "Network fetch duration in seconds by host",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"host"})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sw_fetch_errors_total",
		Help: "Total network fetch errors by class",
	}, []string{"class"})
)

// Fetcher performs a single network round trip. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the network client configuration.
type Config struct {
	// UserAgent is sent on every fetch that does not already carry one
	UserAgent string

	// Timeout bounds a whole fetch including body read (0 = none)
	Timeout time.Duration

	// Transport overrides the default round tripper (tests)
	Transport http.RoundTripper
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent: "klaus-sw/1.0",
		Timeout:   30 * time.Second,
	}
}

// Client is the worker's network Fetcher.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a network client. Redirects are not followed: a 3xx is
// returned to the caller as-is and is never cached.
func New(cfg Config) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		config: cfg,
		logger: log.With().Str("component", "fetch").Logger(),
	}
}

// Do performs the request, recording metrics and classifying failures.
// Network failures are returned as *FetchError; HTTP error statuses are
// returned as ordinary responses.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}

	startTime := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(req.URL.Host).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		class := ClassifyError(nil, err)
		fetchErrorsTotal.WithLabelValues(string(class)).Inc()
		fetchRequestsTotal.WithLabelValues(string(class) + "_error").Inc()
		c.logger.Debug().
			Err(err).
			Str("url", req.URL.String()).
			Str("error_class", string(class)).
			Msg("Fetch failed")
		return nil, &FetchError{
			URL:     req.URL.String(),
			Class:   class,
			Message: "request failed",
			Err:     err,
		}
	}

	fetchRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	if class := ClassifyError(resp, nil); class != "" {
		fetchErrorsTotal.WithLabelValues(string(class)).Inc()
	}

	c.logger.Debug().
		Str("url", req.URL.String()).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(startTime)).
		Msg("Fetch completed")

	return resp, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// String implements fmt.Stringer for log output.
func (c *Client) String() string {
	return fmt.Sprintf("fetch.Client{ua=%q timeout=%s}", c.config.UserAgent, c.config.Timeout)
}
