package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}

	if Gatherer != prometheus.DefaultGatherer {
		t.Error("Gatherer should be the default Prometheus gatherer")
	}
}

func TestLatencyTracker_Stats(t *testing.T) {
	lt := NewLatencyTracker(0.01)

	for i := 1; i <= 100; i++ {
		lt.Record("cache-first", time.Duration(i)*time.Millisecond)
	}

	stats, err := lt.GetStats("cache-first")
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.P50 < 49 || stats.P50 > 52 {
		t.Errorf("P50 = %.2f, want about 50", stats.P50)
	}
	if stats.Max < 99 || stats.Max > 101 {
		t.Errorf("Max = %.2f, want about 100", stats.Max)
	}

	p99, err := lt.GetQuantile("cache-first", 0.99)
	if err != nil {
		t.Fatalf("GetQuantile() error = %v", err)
	}
	if p99 < 97 || p99 > 101 {
		t.Errorf("p99 = %.2f, want about 99", p99)
	}
}

func TestLatencyTracker_UnknownOperation(t *testing.T) {
	lt := NewLatencyTracker(0.01)

	if _, err := lt.GetStats("missing"); err == nil {
		t.Error("GetStats() should fail for an unknown operation")
	}
	if _, err := lt.GetQuantile("missing", 0.5); err == nil {
		t.Error("GetQuantile() should fail for an unknown operation")
	}
}

func TestLatencyTracker_GetAllStatsSorted(t *testing.T) {
	lt := NewLatencyTracker(0)

	lt.Record("stale-while-revalidate", time.Millisecond)
	lt.Record("cache-first", time.Millisecond)
	lt.Record("network-first", time.Millisecond)

	all := lt.GetAllStats()
	if len(all) != 3 {
		t.Fatalf("len(GetAllStats()) = %d, want 3", len(all))
	}
	want := []string{"cache-first", "network-first", "stale-while-revalidate"}
	for i, op := range want {
		if all[i].Operation != op {
			t.Errorf("GetAllStats()[%d] = %q, want %q", i, all[i].Operation, op)
		}
	}
}

func TestLatencyTracker_Concurrent(t *testing.T) {
	lt := NewLatencyTracker(0.01)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				lt.Record("network-first", time.Millisecond)
				_ = lt.GetAllStats()
			}
		}()
	}
	wg.Wait()

	stats, _ := lt.GetStats("network-first")
	if stats.Count != 800 {
		t.Errorf("Count = %d, want 800", stats.Count)
	}
}

func TestStatsString(t *testing.T) {
	if s := (Stats{Operation: "cache-only"}).String(); !strings.Contains(s, "no data") {
		t.Errorf("String() = %q", s)
	}

	s := Stats{Operation: "cache-first", Count: 3, P50: 1.5}.String()
	if !strings.Contains(s, "cache-first (n=3)") || !strings.Contains(s, "p50=1.50ms") {
		t.Errorf("String() = %q", s)
	}
}
