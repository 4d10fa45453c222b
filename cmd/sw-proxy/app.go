package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kevohmutwiri9-creator/Klaus/internal/config"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/background"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/cache"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/fetch"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/logging"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/manifest"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/metrics"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/precache"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app is the wired process: settings, manifest, storage and the shared
// background group.
type app struct {
	cfg        config.Config
	manifest   *manifest.Manifest
	storage    cache.Storage
	redis      *redis.Client
	fetcher    *fetch.Client
	background *background.Group
	latency    *metrics.LatencyTracker
	logger     zerolog.Logger
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if opts.verbose {
		level = logging.LevelDebug
	}
	logging.Setup(logging.Config{Level: level, Pretty: cfg.LogPretty, Output: os.Stderr})

	a := &app{
		cfg:        cfg,
		fetcher:    fetch.New(fetch.Config{UserAgent: cfg.UserAgent, Timeout: cfg.FetchTimeout}),
		background: background.NewGroup(cfg.BackgroundTimeout),
		latency:    metrics.NewLatencyTracker(metrics.DefaultRelativeAccuracy),
		logger:     logging.NewLogger("sw-proxy"),
	}

	path := cfg.ManifestPath
	if opts.manifestPath != "" {
		path = opts.manifestPath
	}
	a.manifest, err = manifest.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}

	if cfg.RedisAddr == "" {
		a.storage = cache.NewMemoryStorage()
		a.logger.Warn().Msg("SW_REDIS_ADDR not set; partitions are kept in memory and lost on exit")
		return a, nil
	}

	a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		a.redis.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	a.storage = cache.NewRedisStorage(a.redis, cfg.RedisPrefix)
	a.logger.Info().Str("redis", cfg.RedisAddr).Str("prefix", cfg.RedisPrefix).Msg("Connected to redis")
	return a, nil
}

// newWorker builds a worker for the loaded manifest.
func (a *app) newWorker() (*worker.Worker, error) {
	origin, err := a.cfg.OriginURL()
	if err != nil {
		return nil, err
	}

	pc := precache.DefaultConfig()
	pc.MaxConcurrency = a.cfg.InstallConcurrency

	return worker.New(worker.Config{
		Manifest:       a.manifest,
		Origin:         origin,
		Storage:        a.storage,
		Fetcher:        a.fetcher,
		Background:     a.background,
		NetworkTimeout: a.cfg.NetworkTimeout,
		MaxAge:         a.cfg.SweepMaxAge,
		Precache:       pc,
		Latency:        a.latency,
	})
}

// install registers a fresh worker: it pre-populates its partitions and,
// with skip-waiting, activates it at once.
func (a *app) install(ctx context.Context, registration *worker.Registration) (worker.InstallReport, error) {
	w, err := a.newWorker()
	if err != nil {
		return worker.InstallReport{}, err
	}

	report, err := registration.Register(ctx, w)
	if err != nil {
		return report, fmt.Errorf("registering worker %s: %w", w.Version(), err)
	}

	a.logger.Info().
		Str("version", report.Version).
		Int("stored", report.Stored).
		Int("failed", report.Failed).
		Msg("Worker installed")
	return report, nil
}

func (a *app) Close() error {
	a.background.Wait()
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
