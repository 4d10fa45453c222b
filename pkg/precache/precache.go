// Package precache pre-populates partitions at install time by fetching a
// list of resources in parallel. Each resource is an isolated failure
// domain: one failed fetch never stops the others.
package precache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kevohmutwiri9-creator/Klaus/pkg/cache"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/fetch"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var precacheTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sw_lifecycle_precache_total",
		Help: "Total install pre-population outcomes",
	},
	[]string{"partition", "result"}, // result: "stored", "failed"
)

// Config holds pre-population configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel fetches
	MaxConcurrency int

	// Timeout bounds one resource including its retries
	Timeout time.Duration

	// Retry controls backoff for network and 5xx failures
	Retry fetch.RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 8,
		Timeout:        15 * time.Second,
		Retry:          fetch.DefaultRetryConfig(),
	}
}

// Job is one resource to pre-populate.
type Job struct {
	// URL is the absolute resource URL
	URL string

	// Partition receives the snapshot
	Partition cache.Partition

	// Critical marks resources the worker cannot serve without
	Critical bool
}

// Result is the outcome of one Job.
type Result struct {
	URL        string `json:"url"`
	Partition  string `json:"partition"`
	Critical   bool   `json:"critical"`
	StatusCode int    `json:"status_code,omitempty"`
	Err        error  `json:"-"`
}

// Report summarizes a pre-population run.
type Report struct {
	Results []Result
	Stored  int
	Failed  int
}

// CriticalFailures returns the failed critical resources.
func (r Report) CriticalFailures() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Critical && res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// OK reports whether every critical resource was stored.
func (r Report) OK() bool {
	return len(r.CriticalFailures()) == 0
}

// Precacher fetches and stores resources with bounded parallelism.
type Precacher struct {
	fetcher fetch.Fetcher
	config  Config
	now     func() time.Time
	logger  zerolog.Logger
}

// New creates a precacher.
func New(fetcher fetch.Fetcher, config Config) *Precacher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &Precacher{
		fetcher: fetcher,
		config:  config,
		now:     time.Now,
		logger:  logging.NewLogger("precache"),
	}
}

// SetClock overrides the clock used to stamp entries (tests).
func (p *Precacher) SetClock(now func() time.Time) {
	p.now = now
}

// Run fetches every job. Individual failures are recorded in the report;
// the returned error is non-nil only when ctx ends before the run does.
func (p *Precacher) Run(ctx context.Context, jobs []Job) (Report, error) {
	start := time.Now()
	results := make([]Result, len(jobs))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.config.MaxConcurrency)

	for i, job := range jobs {
		eg.Go(func() error {
			results[i] = p.runJob(egCtx, job)
			return ctx.Err()
		})
	}
	waitErr := eg.Wait()

	report := Report{Results: results}
	for _, res := range results {
		if res.Err != nil {
			report.Failed++
			continue
		}
		report.Stored++
	}

	p.logger.Info().
		Int("stored", report.Stored).
		Int("failed", report.Failed).
		Dur("duration", time.Since(start)).
		Msg("Pre-population complete")

	if waitErr != nil {
		return report, fmt.Errorf("pre-population interrupted: %w", waitErr)
	}
	return report, nil
}

func (p *Precacher) runJob(ctx context.Context, job Job) Result {
	res := Result{URL: job.URL, Partition: job.Partition.Name(), Critical: job.Critical}

	res.StatusCode, res.Err = p.store(ctx, job)
	if res.Err != nil {
		precacheTotal.WithLabelValues(res.Partition, "failed").Inc()
		event := p.logger.Warn()
		if job.Critical {
			event = p.logger.Error()
		}
		event.Err(res.Err).
			Str("url", job.URL).
			Str("partition", res.Partition).
			Bool("critical", job.Critical).
			Msg("Pre-population failed")
		return res
	}

	precacheTotal.WithLabelValues(res.Partition, "stored").Inc()
	p.logger.Debug().
		Str("url", job.URL).
		Str("partition", res.Partition).
		Msg("Pre-populated")
	return res
}

func (p *Precacher) store(ctx context.Context, job Job) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := fetch.GetWithRetry(ctx, p.fetcher, job.URL, p.config.Retry)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if !cache.IsCacheable(resp.StatusCode) {
		return resp.StatusCode, &fetch.FetchError{
			URL:        job.URL,
			StatusCode: resp.StatusCode,
			Class:      fetch.ClassifyError(resp, nil),
			Message:    "not cacheable",
		}
	}

	u, err := url.Parse(job.URL)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("parse %q: %w", job.URL, err)
	}
	key := cache.NewKey(http.MethodGet, u)
	entry, err := cache.ResponseToEntry(key, resp, p.now())
	if err != nil {
		return resp.StatusCode, err
	}
	if err := job.Partition.Put(ctx, key, entry); err != nil {
		return resp.StatusCode, fmt.Errorf("store %s: %w", key, err)
	}
	return resp.StatusCode, nil
}
