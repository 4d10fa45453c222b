package cache

import (
	"context"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local redis for tests, skipping when none is running.
// The integration build tag runs the same suite against a container.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisStorage(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	storage := NewRedisStorage(client, "")
	if storage.prefix != DefaultRedisPrefix {
		t.Errorf("prefix = %q, want %q", storage.prefix, DefaultRedisPrefix)
	}
	if got := storage.partitionKey("klaus-static-v1"); got != "sw:partition:klaus-static-v1" {
		t.Errorf("partitionKey() = %q", got)
	}
}

func TestNewRedisStorage_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStorage should panic with nil redis client")
		}
	}()
	NewRedisStorage(nil, "sw")
}

func TestRedisStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		return NewRedisStorage(setupTestRedis(t), "sw-test")
	})
}

func TestRedisPartition(t *testing.T) {
	runRedisPartitionSuite(t, setupTestRedis(t))
}

// runRedisPartitionSuite covers redis-specific bookkeeping. It is shared with
// the container-backed integration test.
func runRedisPartitionSuite(t *testing.T, client *redis.Client) {
	ctx := context.Background()

	t.Run("put_after_partition_delete", func(t *testing.T) {
		client.FlushDB(ctx)
		storage := NewRedisStorage(client, "sw-test")
		p, _ := storage.Open(ctx, "klaus-dynamic-v1")

		if _, err := storage.Delete(ctx, "klaus-dynamic-v1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := p.Put(ctx, "GET https://klaus.dev/api/user", &Entry{StatusCode: 200, Body: []byte("{}")}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		names, err := storage.Names(ctx)
		if err != nil {
			t.Fatalf("Names failed: %v", err)
		}
		if len(names) != 1 || names[0] != "klaus-dynamic-v1" {
			t.Fatalf("Names() = %v, want [klaus-dynamic-v1]", names)
		}
		if ok, _ := storage.Delete(ctx, "klaus-dynamic-v1"); !ok {
			t.Error("Delete after Put should remove the partition")
		}
		if n, _ := client.Exists(ctx, storage.partitionKey("klaus-dynamic-v1")).Result(); n != 0 {
			t.Error("partition hash should be gone after Delete")
		}
	})

	t.Run("size_gauge_tracks_overwrites", func(t *testing.T) {
		client.FlushDB(ctx)
		storage := NewRedisStorage(client, "sw-test")
		p, _ := storage.Open(ctx, "klaus-size-v1")
		key := Key("GET https://klaus.dev/style.css")

		for _, body := range []string{"a", "bbbbbbbb", "cc"} {
			if err := p.Put(ctx, key, &Entry{StatusCode: 200, Body: []byte(body)}); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}

		stored, err := client.HGet(ctx, storage.partitionKey("klaus-size-v1"), string(key)).Result()
		if err != nil {
			t.Fatalf("HGet failed: %v", err)
		}
		if got, want := sizeGauge(t, "klaus-size-v1"), float64(len(stored)); got != want {
			t.Errorf("size after overwrites = %v, want %v", got, want)
		}

		if ok, err := p.Delete(ctx, key); err != nil || !ok {
			t.Fatalf("Delete() = %v, %v", ok, err)
		}
		if got := sizeGauge(t, "klaus-size-v1"); got != 0 {
			t.Errorf("size after delete = %v, want 0", got)
		}

		if ok, err := p.Delete(ctx, key); err != nil || ok {
			t.Errorf("Delete() of missing key = %v, %v, want false, nil", ok, err)
		}
	})
}

func sizeGauge(t *testing.T, partition string) float64 {
	t.Helper()
	var m dto.Metric
	if err := CacheSize.WithLabelValues(partition).Write(&m); err != nil {
		t.Fatalf("Write gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}
