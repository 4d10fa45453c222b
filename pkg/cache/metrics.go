package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks partition hits
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_cache_hits_total",
			Help: "Total number of partition lookups that found an entry",
		},
		[]string{"partition"},
	)

	// CacheMisses tracks partition misses
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_cache_misses_total",
			Help: "Total number of partition lookups that found nothing",
		},
		[]string{"partition"},
	)

	// CachePuts tracks entries written
	CachePuts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_cache_puts_total",
			Help: "Total number of entries written into a partition",
		},
		[]string{"partition"},
	)

	// CacheSize tracks approximate partition size in bytes
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sw_cache_size_bytes",
			Help: "Approximate size of each partition in bytes",
		},
		[]string{"partition"},
	)

	// CacheErrors tracks storage operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_cache_errors_total",
			Help: "Total number of partition storage errors",
		},
		[]string{"operation"}, // "open", "get", "set", "delete", "keys", ...
	)
)
