package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage keeps partitions in process memory.
// It is used in tests and when no redis address is configured; contents do
// not survive a restart.
type MemoryStorage struct {
	mu         sync.RWMutex
	partitions map[string]*memoryPartition
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		partitions: make(map[string]*memoryPartition),
	}
}

// Open returns the named partition, creating it if needed.
func (s *MemoryStorage) Open(_ context.Context, name string) (Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[name]
	if !ok {
		p = &memoryPartition{name: name, entries: make(map[Key]*Entry)}
		s.partitions[name] = p
	}
	return p, nil
}

// Has reports whether the named partition exists.
func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.partitions[name]
	return ok, nil
}

// Names lists all partitions in lexical order.
func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the named partition.
func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.partitions[name]; !ok {
		return false, nil
	}
	delete(s.partitions, name)
	CacheSize.DeleteLabelValues(name)
	return true, nil
}

type memoryPartition struct {
	name    string
	mu      sync.RWMutex
	entries map[Key]*Entry
}

func (p *memoryPartition) Name() string { return p.name }

func (p *memoryPartition) Match(_ context.Context, key Key) (*Entry, error) {
	p.mu.RLock()
	entry, ok := p.entries[key]
	p.mu.RUnlock()

	if !ok {
		CacheMisses.WithLabelValues(p.name).Inc()
		return nil, ErrCacheMiss
	}
	CacheHits.WithLabelValues(p.name).Inc()

	// Hand out a copy so callers cannot mutate the stored snapshot.
	clone := *entry
	clone.Headers = entry.Headers.Clone()
	return &clone, nil
}

func (p *memoryPartition) Put(_ context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return errNilEntry
	}
	clone := *entry
	clone.Key = key
	clone.Headers = entry.Headers.Clone()

	p.mu.Lock()
	if old, ok := p.entries[key]; ok {
		CacheSize.WithLabelValues(p.name).Sub(float64(old.Size()))
	}
	p.entries[key] = &clone
	p.mu.Unlock()

	CachePuts.WithLabelValues(p.name).Inc()
	CacheSize.WithLabelValues(p.name).Add(float64(clone.Size()))
	return nil
}

func (p *memoryPartition) Delete(_ context.Context, key Key) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	old, ok := p.entries[key]
	if !ok {
		return false, nil
	}
	delete(p.entries, key)
	CacheSize.WithLabelValues(p.name).Sub(float64(old.Size()))
	return true, nil
}

func (p *memoryPartition) Keys(_ context.Context) ([]Key, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]Key, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}
