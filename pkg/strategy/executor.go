package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kevohmutwiri9-creator/Klaus/pkg/background"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/cache"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/fetch"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/logging"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/route"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// HeaderSource tells the client where a response came from.
const HeaderSource = "X-SW-Source"

// Response sources.
const (
	SourceNetwork  = "network"
	SourceCache    = "cache"
	SourceFallback = "fallback"
)

// DefaultNetworkTimeout bounds the network attempt of NetworkFirst.
const DefaultNetworkTimeout = 3 * time.Second

// ErrNotCached is returned by CacheOnly on a miss.
var ErrNotCached = errors.New("resource not cached")

var (
	strategyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_strategy_requests_total",
			Help: "Total responses produced by each strategy, by source",
		},
		[]string{"strategy", "source"},
	)

	strategyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_strategy_errors_total",
			Help: "Total requests that ended in a propagated failure",
		},
		[]string{"strategy"},
	)

	strategyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sw_strategy_duration_seconds",
			Help:    "Time for a strategy to produce a response",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 3, 10},
		},
		[]string{"strategy"},
	)

	strategyStale = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_strategy_stale_total",
			Help: "Total stored entries served because the network failed",
		},
		[]string{"strategy"},
	)
)

// Executor produces the response for one intercepted request. The request
// URL must be absolute; it is the cache key together with the method.
type Executor interface {
	Name() route.Strategy
	Execute(ctx context.Context, req *http.Request, partition cache.Partition) (*http.Response, error)
}

// FallbackFunc returns the offline fallback document.
type FallbackFunc func(ctx context.Context) (*cache.Entry, error)

// core holds what every executor shares.
type core struct {
	fetcher fetch.Fetcher
	now     func() time.Time
	logger  zerolog.Logger
}

func newCore(opts Options) core {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return core{
		fetcher: opts.Fetcher,
		now:     now,
		logger:  logging.NewLogger("strategy"),
	}
}

// fetch performs the network round trip under ctx and buffers the body.
func (c core) fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""

	resp, err := c.fetcher.Do(out)
	if err != nil {
		return nil, err
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if _, err := cache.BufferBody(resp); err != nil {
		return nil, &fetch.FetchError{
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Class:      fetch.ClassifyError(nil, err),
			Message:    "reading body",
			Err:        err,
		}
	}
	resp.Header.Set(HeaderSource, SourceNetwork)
	return resp, nil
}

// lookup returns the stored entry or nil. Read failures count as misses.
func (c core) lookup(ctx context.Context, p cache.Partition, key cache.Key) *cache.Entry {
	entry, err := p.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().
				Err(err).
				Str("key", key.String()).
				Str("partition", p.Name()).
				Msg("Cache read failed, treating as miss")
		}
		return nil
	}
	return entry
}

// store writes resp into p when its status is 2xx. Write failures are
// logged and never reach the caller.
func (c core) store(ctx context.Context, p cache.Partition, key cache.Key, resp *http.Response) {
	if !cache.IsCacheable(resp.StatusCode) {
		c.logger.Debug().
			Str("key", key.String()).
			Int("status_code", resp.StatusCode).
			Msg("Response not cacheable")
		return
	}

	entry, err := cache.ResponseToEntry(key, resp, c.now())
	if err == nil {
		entry.Headers.Del(HeaderSource)
		err = p.Put(ctx, key, entry)
	}
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("key", key.String()).
			Str("partition", p.Name()).
			Msg("Cache write failed")
		return
	}

	c.logger.Debug().
		Str("key", key.String()).
		Str("partition", p.Name()).
		Int("status_code", resp.StatusCode).
		Msg("Cached response")
}

// serve rebuilds a response from entry and tags its source.
func serve(entry *cache.Entry, req *http.Request, source string) *http.Response {
	resp := cache.EntryToResponse(entry, req)
	resp.Header.Set(HeaderSource, source)
	return resp
}

func discard(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}

// CacheFirst serves the stored entry and only touches the network on a miss.
type CacheFirst struct {
	core
}

// Name implements Executor.
func (*CacheFirst) Name() route.Strategy { return route.CacheFirst }

// Execute implements Executor.
func (s *CacheFirst) Execute(ctx context.Context, req *http.Request, p cache.Partition) (*http.Response, error) {
	key := cache.KeyForRequest(req)
	if entry := s.lookup(ctx, p, key); entry != nil {
		return serve(entry, req, SourceCache), nil
	}

	resp, err := s.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	s.store(ctx, p, key, resp)
	return resp, nil
}

// NetworkFirst prefers the live network and falls back to the stored copy.
type NetworkFirst struct {
	core

	// Timeout bounds the network attempt (0 disables the bound).
	Timeout time.Duration

	// Fallback supplies the offline document for navigations (optional).
	Fallback FallbackFunc
}

// Name implements Executor.
func (*NetworkFirst) Name() route.Strategy { return route.NetworkFirst }

// Execute implements Executor.
func (s *NetworkFirst) Execute(ctx context.Context, req *http.Request, p cache.Partition) (*http.Response, error) {
	key := cache.KeyForRequest(req)

	fetchCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.Timeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, s.Timeout)
	}
	resp, err := s.fetch(fetchCtx, req)
	cancel()

	if err == nil && cache.IsCacheable(resp.StatusCode) {
		s.store(ctx, p, key, resp)
		return resp, nil
	}

	if entry := s.lookup(ctx, p, key); entry != nil {
		logEvent := s.logger.Info().Str("key", key.String()).Str("partition", p.Name())
		if err != nil {
			logEvent = logEvent.Err(err)
		} else {
			logEvent = logEvent.Int("status_code", resp.StatusCode)
		}
		logEvent.Msg("Network failed, serving stored copy")

		discard(resp)
		strategyStale.WithLabelValues(string(route.NetworkFirst)).Inc()
		return serve(entry, req, SourceCache), nil
	}

	if err == nil {
		// HTTP error status without a stored copy is returned through
		return resp, nil
	}

	if s.Fallback != nil && ctx.Err() == nil && route.IsNavigation(req) {
		fallback, ferr := s.Fallback(ctx)
		if ferr == nil {
			s.logger.Info().Err(err).Str("url", req.URL.String()).Msg("Serving offline fallback")
			return serve(fallback, req, SourceFallback), nil
		}
		s.logger.Error().Err(ferr).Str("url", req.URL.String()).Msg("Offline fallback unavailable")
	}

	return nil, err
}

// StaleWhileRevalidate serves the stored copy immediately and refreshes it
// in the background.
type StaleWhileRevalidate struct {
	core

	// Background runs the refresh; nil runs it synchronously after the
	// response is produced, which only tests should rely on.
	Background *background.Group
}

// Name implements Executor.
func (*StaleWhileRevalidate) Name() route.Strategy { return route.StaleWhileRevalidate }

// Execute implements Executor.
func (s *StaleWhileRevalidate) Execute(ctx context.Context, req *http.Request, p cache.Partition) (*http.Response, error) {
	key := cache.KeyForRequest(req)

	entry := s.lookup(ctx, p, key)
	if entry == nil {
		resp, err := s.fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		s.store(ctx, p, key, resp)
		return resp, nil
	}

	refresh := req.Clone(context.Background())
	task := func(ctx context.Context) error {
		resp, err := s.fetch(ctx, refresh)
		if err != nil {
			return fmt.Errorf("revalidate %s: %w", key, err)
		}
		defer discard(resp)
		if !cache.IsCacheable(resp.StatusCode) {
			return fmt.Errorf("revalidate %s: status %d", key, resp.StatusCode)
		}
		s.store(ctx, p, key, resp)
		return nil
	}

	if s.Background != nil {
		s.Background.Go(ctx, "revalidate", task)
	} else if err := task(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn().Err(err).Msg("Revalidation failed")
	}

	return serve(entry, req, SourceCache), nil
}

// CacheOnly serves the stored copy and never touches the network.
type CacheOnly struct {
	core
}

// Name implements Executor.
func (*CacheOnly) Name() route.Strategy { return route.CacheOnly }

// Execute implements Executor.
func (s *CacheOnly) Execute(ctx context.Context, req *http.Request, p cache.Partition) (*http.Response, error) {
	key := cache.KeyForRequest(req)
	entry := s.lookup(ctx, p, key)
	if entry == nil {
		s.logger.Error().
			Str("key", key.String()).
			Str("partition", p.Name()).
			Msg("Critical resource missing from cache")
		return nil, fmt.Errorf("%w: %s in %s", ErrNotCached, key, p.Name())
	}
	return serve(entry, req, SourceCache), nil
}

// NetworkOnly passes the request through; the partition is ignored and the
// body is streamed, not buffered.
type NetworkOnly struct {
	core
}

// Name implements Executor.
func (*NetworkOnly) Name() route.Strategy { return route.NetworkOnly }

// Execute implements Executor.
func (s *NetworkOnly) Execute(ctx context.Context, req *http.Request, _ cache.Partition) (*http.Response, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""

	resp, err := s.fetcher.Do(out)
	if err != nil {
		return nil, err
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	resp.Header.Set(HeaderSource, SourceNetwork)
	return resp, nil
}
