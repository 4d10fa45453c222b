// Package background runs fire-and-forget work (cache refreshes, control
// messages) as observed tasks: every task has a name, a timeout, and an
// outcome that is logged and counted. Nothing is left as an unobserved
// failure.
package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kevohmutwiri9-creator/Klaus/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a task when the group has no explicit timeout.
const DefaultTimeout = 30 * time.Second

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_background_tasks_total",
			Help: "Total number of background tasks by outcome",
		},
		[]string{"task", "result"}, // result: "ok", "error", "panic"
	)

	tasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sw_background_tasks_in_flight",
			Help: "Number of background tasks currently running",
		},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sw_background_task_duration_seconds",
			Help:    "Background task duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Group tracks in-flight tasks so shutdown and tests can drain them.
type Group struct {
	wg      sync.WaitGroup
	timeout time.Duration
	logger  zerolog.Logger
}

// NewGroup creates a group whose tasks are cancelled after timeout.
func NewGroup(timeout time.Duration) *Group {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Group{
		timeout: timeout,
		logger:  logging.NewLogger("background"),
	}
}

// Go starts fn in a new goroutine. The task keeps the values of ctx but not
// its cancellation: an aborted client request does not abort the write-back.
func (g *Group) Go(ctx context.Context, name string, fn Task) {
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)

	g.wg.Add(1)
	tasksInFlight.Inc()
	go func() {
		defer g.wg.Done()
		defer tasksInFlight.Dec()
		defer cancel()

		start := time.Now()
		err := run(taskCtx, fn)
		taskDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		var panicked *panicError
		switch {
		case err == nil:
			tasksTotal.WithLabelValues(name, "ok").Inc()
			g.logger.Debug().Str("task", name).Dur("duration", time.Since(start)).Msg("Background task done")
		case errors.As(err, &panicked):
			tasksTotal.WithLabelValues(name, "panic").Inc()
			g.logger.Error().Str("task", name).Interface("panic", panicked.value).Msg("Background task panicked")
		default:
			tasksTotal.WithLabelValues(name, "error").Inc()
			g.logger.Warn().Err(err).Str("task", name).Msg("Background task failed")
		}
	}()
}

// Wait blocks until every started task has finished.
func (g *Group) Wait() {
	g.wg.Wait()
}

// WaitContext is Wait bounded by ctx.
func (g *Group) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func run(ctx context.Context, fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return fn(ctx)
}
