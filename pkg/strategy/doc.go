// Package strategy implements the caching strategies the worker runs for an
// intercepted request:
//
//   - CacheFirst: serve the partition entry, fetch and store only on a miss.
//   - NetworkFirst: prefer the live network under a timeout, fall back to the
//     stored copy, then to the offline document for navigations.
//   - StaleWhileRevalidate: serve the stored copy immediately and refresh it
//     in the background.
//   - CacheOnly: serve the stored copy or fail with ErrNotCached.
//   - NetworkOnly: pass-through for bypassed requests.
//
// Only 2xx responses are written to a partition. Every response carries
// HeaderSource naming where it came from. Network responses are fully
// buffered before they are returned, so a timeout or a background write can
// never race the caller reading the body.
//
// # Basic Usage
//
//	set := strategy.NewSet(strategy.Options{
//		Fetcher:    fetch.New(fetch.DefaultConfig()),
//		Background: background.NewGroup(30 * time.Second),
//		Timeout:    3 * time.Second,
//	})
//
//	decision := selector.Select(req.Method, req.URL)
//	resp, err := set.Execute(ctx, decision.Strategy, req, partition)
//
// # Metrics
//
//   - sw_strategy_requests_total{strategy, source}
//   - sw_strategy_errors_total{strategy}
//   - sw_strategy_duration_seconds{strategy}
//   - sw_strategy_stale_total{strategy}
package strategy
