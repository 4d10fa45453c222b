package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions tracks worker state changes
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_lifecycle_transitions_total",
			Help: "Total number of worker state transitions",
		},
		[]string{"state"},
	)

	// PartitionsDeleted tracks obsolete partitions removed on activate
	PartitionsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sw_lifecycle_partitions_deleted_total",
			Help: "Total number of obsolete partitions deleted on activate",
		},
	)

	// Evictions tracks entries removed by sweeps
	Evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sw_lifecycle_evictions_total",
			Help: "Total number of aged entries evicted from the dynamic partition",
		},
	)

	// Messages tracks control messages and sync tags
	Messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_lifecycle_messages_total",
			Help: "Total number of control messages and sync wake-ups handled",
		},
		[]string{"type"}, // "SKIP_WAITING", "CACHE_UPDATE", "sync:cache-sweep", "ignored", ...
	)
)
