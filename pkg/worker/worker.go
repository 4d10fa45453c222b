// Package worker is the lifecycle manager of the offline cache: a Worker is
// one deployed version of the cache policy (manifest + partitions), and a
// Registration decides which worker answers intercepted requests.
//
// Lifecycle of a worker:
//
//	installing -> installed (waiting) -> activating -> activated -> redundant
//
// Install pre-populates the STATIC and IMAGE partitions. Activate deletes
// every partition that does not belong to the worker's version and sweeps
// aged DYNAMIC entries. Sweeps also run whenever the host delivers a wake
// trigger (HandleSync with the cache-sweep tag).
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/background"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/cache"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/fetch"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/logging"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/manifest"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/metrics"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/precache"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/route"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/strategy"
	"github.com/rs/zerolog"
)

// DefaultMaxAge is the age past which DYNAMIC entries are swept.
const DefaultMaxAge = 24 * time.Hour

// ErrNotInstalled is returned when activating a worker that has not
// finished installing.
var ErrNotInstalled = errors.New("worker not installed")

// State is a worker lifecycle state.
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Config holds everything a worker needs. There is no package state.
type Config struct {
	// Manifest lists the resources and the version tag (required)
	Manifest *manifest.Manifest

	// Origin is the page origin requests are resolved against (required)
	Origin *url.URL

	// Storage holds the partitions (required)
	Storage cache.Storage

	// Fetcher performs network round trips (required)
	Fetcher fetch.Fetcher

	// Background runs revalidations and fire-and-forget messages
	Background *background.Group

	// NetworkTimeout bounds network-first's network attempt
	NetworkTimeout time.Duration

	// MaxAge is the sweep threshold for DYNAMIC entries
	MaxAge time.Duration

	// Precache configures install pre-population
	Precache precache.Config

	// Latency records per-strategy latency quantiles (optional)
	Latency *metrics.LatencyTracker

	// Clock returns the current time (default time.Now)
	Clock func() time.Time
}

// Worker is one deployed version of the cache policy.
type Worker struct {
	id         string
	manifest   *manifest.Manifest
	names      manifest.Names
	selector   *route.Selector
	strategies *strategy.Set
	storage    cache.Storage
	fetcher    fetch.Fetcher
	precacher  *precache.Precacher
	background *background.Group
	maxAge     time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	mu         sync.RWMutex
	state      State
	partitions map[string]cache.Partition
}

// New creates a worker in StateNew.
func New(cfg Config) (*Worker, error) {
	if cfg.Manifest == nil {
		return nil, fmt.Errorf("manifest is required")
	}
	if err := cfg.Manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}

	selector, err := route.NewSelector(route.ConfigFromManifest(cfg.Origin, cfg.Manifest))
	if err != nil {
		return nil, fmt.Errorf("building selector: %w", err)
	}

	if cfg.Background == nil {
		cfg.Background = background.NewGroup(background.DefaultTimeout)
	}
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = strategy.DefaultNetworkTimeout
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Precache.MaxConcurrency == 0 && cfg.Precache.Timeout == 0 && cfg.Precache.Retry.MaxAttempts == 0 {
		cfg.Precache = precache.DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	id := uuid.NewString()
	w := &Worker{
		id:         id,
		manifest:   cfg.Manifest,
		names:      cfg.Manifest.Names(),
		selector:   selector,
		storage:    cfg.Storage,
		fetcher:    cfg.Fetcher,
		precacher:  precache.New(cfg.Fetcher, cfg.Precache),
		background: cfg.Background,
		maxAge:     cfg.MaxAge,
		now:        cfg.Clock,
		state:      StateNew,
		partitions: make(map[string]cache.Partition),
		logger: logging.NewLogger("worker").With().
			Str("worker_id", id).
			Str("version", cfg.Manifest.Version).
			Logger(),
	}
	w.precacher.SetClock(cfg.Clock)

	w.strategies = strategy.NewSet(strategy.Options{
		Fetcher:    cfg.Fetcher,
		Background: cfg.Background,
		Timeout:    cfg.NetworkTimeout,
		Fallback:   w.offlineFallback,
		Latency:    cfg.Latency,
		Clock:      cfg.Clock,
	})

	return w, nil
}

// ID returns the worker's unique id.
func (w *Worker) ID() string { return w.id }

// Version returns the manifest version tag.
func (w *Worker) Version() string { return w.manifest.Version }

// Names returns the worker's partition names.
func (w *Worker) Names() manifest.Names { return w.names }

// Selector returns the worker's routing table.
func (w *Worker) Selector() *route.Selector { return w.selector }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()

	Transitions.WithLabelValues(string(state)).Inc()
	w.logger.Info().Str("state", string(state)).Msg("Worker state changed")
}

// partition returns the handle for name, opening it on first use.
func (w *Worker) partition(ctx context.Context, name string) (cache.Partition, error) {
	w.mu.RLock()
	p, ok := w.partitions[name]
	w.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := w.storage.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", name, err)
	}

	w.mu.Lock()
	if existing, ok := w.partitions[name]; ok {
		p = existing
	} else {
		w.partitions[name] = p
	}
	w.mu.Unlock()
	return p, nil
}

// Fetch answers an intercepted request. Relative request URLs are resolved
// against the origin.
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.URL.Host == "" {
		req = req.Clone(ctx)
		req.URL = w.selector.Origin().ResolveReference(req.URL)
		req.Host = req.URL.Host
	}

	decision := w.selector.Select(req.Method, req.URL)

	var p cache.Partition
	if decision.Strategy != route.NetworkOnly {
		var err error
		if p, err = w.partition(ctx, decision.Partition); err != nil {
			return nil, err
		}
	}

	w.logger.Debug().
		Str("url", req.URL.String()).
		Str("rule", decision.Rule).
		Str("strategy", string(decision.Strategy)).
		Str("partition", decision.Partition).
		Msg("Routing request")

	return w.strategies.Execute(ctx, decision.Strategy, req, p)
}

// offlineFallback returns the stored offline document from STATIC.
func (w *Worker) offlineFallback(ctx context.Context) (*cache.Entry, error) {
	if w.manifest.OfflineFallback == "" {
		return nil, cache.ErrCacheMiss
	}
	u, err := w.selector.Resolve(w.manifest.OfflineFallback)
	if err != nil {
		return nil, err
	}
	p, err := w.partition(ctx, w.names.Static)
	if err != nil {
		return nil, err
	}
	return p.Match(ctx, cache.NewKey(http.MethodGet, u))
}

// PartitionInfo describes one stored partition.
type PartitionInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

// Partitions lists every partition in storage with its entry count.
func (w *Worker) Partitions(ctx context.Context) ([]PartitionInfo, error) {
	names, err := w.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}

	infos := make([]PartitionInfo, 0, len(names))
	for _, name := range names {
		p, err := w.storage.Open(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("open partition %s: %w", name, err)
		}
		keys, err := p.Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("keys of %s: %w", name, err)
		}
		infos = append(infos, PartitionInfo{Name: name, Entries: len(keys), Current: w.names.Contains(name)})
	}
	return infos, nil
}

// Ping checks that storage answers.
func (w *Worker) Ping(ctx context.Context) error {
	if _, err := w.storage.Names(ctx); err != nil {
		return fmt.Errorf("storage unavailable: %w", err)
	}
	return nil
}
