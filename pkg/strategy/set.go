package strategy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kevohmutwiri9-creator/Klaus/pkg/background"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/cache"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/fetch"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/metrics"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/route"
)

// Options configures the executors of a Set.
type Options struct {
	// Fetcher performs network round trips (required).
	Fetcher fetch.Fetcher

	// Background runs stale-while-revalidate refreshes.
	Background *background.Group

	// Timeout bounds the network attempt of network-first.
	Timeout time.Duration

	// Fallback supplies the offline document for network-first navigations.
	Fallback FallbackFunc

	// Latency records per-strategy quantiles (optional).
	Latency *metrics.LatencyTracker

	// Clock stamps stored entries (default time.Now).
	Clock func() time.Time
}

// Set dispatches a routing decision to its executor and records metrics.
type Set struct {
	executors map[route.Strategy]Executor
	latency   *metrics.LatencyTracker
}

// NewSet builds one executor per strategy.
func NewSet(opts Options) *Set {
	if opts.Fetcher == nil {
		panic("strategy: fetcher cannot be nil")
	}
	c := newCore(opts)

	executors := []Executor{
		&CacheFirst{core: c},
		&NetworkFirst{core: c, Timeout: opts.Timeout, Fallback: opts.Fallback},
		&StaleWhileRevalidate{core: c, Background: opts.Background},
		&CacheOnly{core: c},
		&NetworkOnly{core: c},
	}

	s := &Set{
		executors: make(map[route.Strategy]Executor, len(executors)),
		latency:   opts.Latency,
	}
	for _, e := range executors {
		s.executors[e.Name()] = e
	}
	return s
}

// Executor returns the executor for strategy.
func (s *Set) Executor(strategy route.Strategy) (Executor, bool) {
	e, ok := s.executors[strategy]
	return e, ok
}

// Execute runs strategy for req against partition. partition may be nil
// only for network-only.
func (s *Set) Execute(ctx context.Context, strategy route.Strategy, req *http.Request, partition cache.Partition) (*http.Response, error) {
	e, ok := s.executors[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
	if partition == nil && strategy != route.NetworkOnly {
		return nil, fmt.Errorf("strategy %s needs a partition", strategy)
	}

	start := time.Now()
	resp, err := e.Execute(ctx, req, partition)
	elapsed := time.Since(start)

	strategyDuration.WithLabelValues(string(strategy)).Observe(elapsed.Seconds())
	if s.latency != nil {
		s.latency.Record(string(strategy), elapsed)
	}

	if err != nil {
		strategyErrors.WithLabelValues(string(strategy)).Inc()
		return nil, err
	}
	strategyRequests.WithLabelValues(string(strategy), resp.Header.Get(HeaderSource)).Inc()
	return resp, nil
}
