package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by RedisStorage.
const DefaultRedisPrefix = "sw"

// RedisStorage persists partitions in redis so they survive proxy restarts
// and are shared by every proxy instance pointed at the same database.
//
// Layout:
//
//	{prefix}:partitions         SET  of partition names
//	{prefix}:partition:{name}   HASH of request key → JSON entry
type RedisStorage struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStorage creates a storage backed by the given redis client.
func NewRedisStorage(redisClient redis.UniversalClient, prefix string) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStorage) namesKey() string {
	return s.prefix + ":partitions"
}

func (s *RedisStorage) partitionKey(name string) string {
	return s.prefix + ":partition:" + name
}

// Open registers the partition name and returns a handle to it.
func (s *RedisStorage) Open(ctx context.Context, name string) (Partition, error) {
	if err := s.redis.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("redis sadd: %w", err)
	}
	return &redisPartition{storage: s, name: name, key: s.partitionKey(name)}, nil
}

// Has reports whether the named partition exists.
func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := s.redis.SIsMember(ctx, s.namesKey(), name).Result()
	if err != nil {
		CacheErrors.WithLabelValues("has").Inc()
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

// Names lists all partitions in lexical order.
func (s *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.redis.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		CacheErrors.WithLabelValues("names").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete drops the partition hash and its name in one transaction.
func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.partitionKey(name))
		removed = pipe.SRem(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("delete_partition").Inc()
		return false, fmt.Errorf("redis delete partition: %w", err)
	}
	CacheSize.DeleteLabelValues(name)
	return removed.Val() > 0, nil
}

type redisPartition struct {
	storage *RedisStorage
	name    string
	key     string
}

func (p *redisPartition) Name() string { return p.name }

func (p *redisPartition) Match(ctx context.Context, key Key) (*Entry, error) {
	data, err := p.storage.redis.HGet(ctx, p.key, string(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(p.name).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.WithLabelValues(p.name).Inc()
	return &entry, nil
}

func (p *redisPartition) Put(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return errNilEntry
	}
	stored := *entry
	stored.Key = key

	data, err := json.Marshal(&stored)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	// The name is re-added so a partition deleted under an open handle
	// stays listed once it holds entries again.
	var old *redis.StringCmd
	var set *redis.IntCmd
	_, err = p.storage.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		old = pipe.HGet(ctx, p.key, string(key))
		pipe.SAdd(ctx, p.storage.namesKey(), p.name)
		set = pipe.HSet(ctx, p.key, string(key), data)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}
	if err := set.Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}

	CachePuts.WithLabelValues(p.name).Inc()
	CacheSize.WithLabelValues(p.name).Sub(float64(len(old.Val())))
	CacheSize.WithLabelValues(p.name).Add(float64(len(data)))
	return nil
}

func (p *redisPartition) Delete(ctx context.Context, key Key) (bool, error) {
	var old *redis.StringCmd
	var removed *redis.IntCmd
	_, err := p.storage.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		old = pipe.HGet(ctx, p.key, string(key))
		removed = pipe.HDel(ctx, p.key, string(key))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("redis hdel: %w", err)
	}
	if err := removed.Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("redis hdel: %w", err)
	}
	CacheSize.WithLabelValues(p.name).Sub(float64(len(old.Val())))
	return removed.Val() > 0, nil
}

func (p *redisPartition) Keys(ctx context.Context) ([]Key, error) {
	fields, err := p.storage.redis.HKeys(ctx, p.key).Result()
	if err != nil {
		CacheErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	sort.Strings(fields)

	keys := make([]Key, len(fields))
	for i, f := range fields {
		keys[i] = Key(f)
	}
	return keys, nil
}
