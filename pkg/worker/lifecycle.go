package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kevohmutwiri9-creator/Klaus/pkg/cache"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/precache"
)

// InstallReport is the outcome of Install.
type InstallReport struct {
	Version string
	precache.Report
}

// ActivateReport is the outcome of Activate.
type ActivateReport struct {
	Deleted []string
	Evicted int
}

// Install opens the worker's partitions and pre-populates critical and
// static resources into STATIC and images into IMAGE. A failed resource
// never fails the install; failed critical resources are logged at error
// level and listed in the report.
func (w *Worker) Install(ctx context.Context) (InstallReport, error) {
	report := InstallReport{Version: w.Version()}
	w.setState(StateInstalling)

	opened := make(map[string]cache.Partition, 3)
	for _, name := range w.names.All() {
		p, err := w.partition(ctx, name)
		if err != nil {
			w.setState(StateRedundant)
			return report, fmt.Errorf("install: %w", err)
		}
		opened[name] = p
	}

	jobs, err := w.installJobs(opened)
	if err != nil {
		w.setState(StateRedundant)
		return report, fmt.Errorf("install: %w", err)
	}

	report.Report, err = w.precacher.Run(ctx, jobs)
	if err != nil {
		w.setState(StateRedundant)
		return report, fmt.Errorf("install: %w", err)
	}

	for _, failed := range report.CriticalFailures() {
		w.logger.Error().
			Err(failed.Err).
			Str("url", failed.URL).
			Msg("Critical resource not cached; requests for it will fail")
	}

	w.setState(StateInstalled)
	return report, nil
}

func (w *Worker) installJobs(partitions map[string]cache.Partition) ([]precache.Job, error) {
	var jobs []precache.Job
	seen := make(map[string]bool)

	add := func(list []string, partition string, critical bool) error {
		for _, raw := range list {
			u, err := w.selector.Resolve(raw)
			if err != nil {
				return err
			}
			if seen[u.String()] {
				continue
			}
			seen[u.String()] = true
			jobs = append(jobs, precache.Job{
				URL:       u.String(),
				Partition: partitions[partition],
				Critical:  critical,
			})
		}
		return nil
	}

	if err := add(w.manifest.Critical, w.names.Static, true); err != nil {
		return nil, err
	}
	if err := add(w.manifest.Static, w.names.Static, false); err != nil {
		return nil, err
	}
	if err := add(w.manifest.Images, w.names.Image, false); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Activate deletes every partition that does not belong to this worker's
// version, then sweeps aged DYNAMIC entries.
func (w *Worker) Activate(ctx context.Context) (ActivateReport, error) {
	var report ActivateReport

	switch w.State() {
	case StateInstalled:
	case StateActivated:
		return report, nil
	default:
		return report, fmt.Errorf("activate in state %s: %w", w.State(), ErrNotInstalled)
	}
	w.setState(StateActivating)

	names, err := w.storage.Names(ctx)
	if err != nil {
		w.setState(StateInstalled)
		return report, fmt.Errorf("activate: listing partitions: %w", err)
	}

	for _, name := range names {
		if w.names.Contains(name) {
			continue
		}
		deleted, err := w.storage.Delete(ctx, name)
		if err != nil {
			w.setState(StateInstalled)
			return report, fmt.Errorf("activate: deleting %s: %w", name, err)
		}
		if deleted {
			PartitionsDeleted.Inc()
			report.Deleted = append(report.Deleted, name)
			w.logger.Info().Str("partition", name).Msg("Deleted obsolete partition")
		}
	}

	// a failed sweep only delays eviction
	evicted, err := w.Sweep(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Sweep on activate failed")
	}
	report.Evicted = evicted

	w.setState(StateActivated)
	return report, nil
}

// Sweep evicts DYNAMIC entries stored longer than the max age ago.
// Unreadable entries are evicted too.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	p, err := w.partition(ctx, w.names.Dynamic)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	keys, err := p.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep: listing keys: %w", err)
	}

	now := w.now()
	evicted := 0
	for _, key := range keys {
		entry, err := p.Match(ctx, key)
		switch {
		case errors.Is(err, cache.ErrCacheMiss):
			continue
		case errors.Is(err, cache.ErrInvalidEntry):
		case err != nil:
			return evicted, fmt.Errorf("sweep: reading %s: %w", key, err)
		case !entry.OlderThan(w.maxAge, now):
			continue
		}

		removed, err := p.Delete(ctx, key)
		if err != nil {
			return evicted, fmt.Errorf("sweep: deleting %s: %w", key, err)
		}
		if removed {
			evicted++
			Evictions.Inc()
		}
	}

	w.logger.Info().
		Str("partition", p.Name()).
		Int("scanned", len(keys)).
		Int("evicted", evicted).
		Dur("duration", time.Since(start)).
		Msg("Sweep complete")
	return evicted, nil
}

// markRedundant retires a replaced worker.
func (w *Worker) markRedundant() {
	if w.State() != StateRedundant {
		w.setState(StateRedundant)
	}
}
