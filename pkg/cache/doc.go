// Package cache provides the partition store behind the offline cache worker.
//
// A Storage holds named partitions (STATIC, DYNAMIC, IMAGE for the current
// version tag). Each Partition maps a request Key to an Entry: an immutable
// snapshot of a successful (2xx) response with its capture time.
//
// Two backends are provided:
//
//   - MemoryStorage keeps everything in process memory (tests, dev).
//   - RedisStorage persists partitions in redis so they survive restarts.
//
// # Basic Usage
//
//	storage := cache.NewRedisStorage(redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	}), "sw")
//
//	static, err := storage.Open(ctx, "klaus-static-v3")
//	if err != nil {
//		return err
//	}
//
//	key := cache.KeyForRequest(req)
//	entry, err := static.Match(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from network
//	}
//
// # HTTP Response Caching
//
//	if cache.IsCacheable(resp.StatusCode) {
//		entry, err := cache.ResponseToEntry(key, resp, time.Now())
//		if err != nil {
//			return err
//		}
//		_ = static.Put(ctx, key, entry)
//	}
//
//	// Serve a snapshot
//	resp := cache.EntryToResponse(entry, req)
//
// # Metrics
//
//   - sw_cache_hits_total{partition}
//   - sw_cache_misses_total{partition}
//   - sw_cache_puts_total{partition}
//   - sw_cache_size_bytes{partition}
//   - sw_cache_errors_total{operation}
package cache
