package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the partition
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	errNilEntry = errors.New("cache entry cannot be nil")
)

// Partition is a named store of request key → response snapshot.
// Every mutation is atomic at entry granularity; concurrent writers for the
// same key race and the last write wins.
type Partition interface {
	// Name returns the partition name (including its version tag).
	Name() string

	// Match returns the entry stored under key, or ErrCacheMiss.
	Match(ctx context.Context, key Key) (*Entry, error)

	// Put stores entry under key, replacing any previous entry.
	Put(ctx context.Context, key Key, entry *Entry) error

	// Delete removes the entry under key. Returns false if there was none.
	Delete(ctx context.Context, key Key) (bool, error)

	// Keys lists every key currently stored.
	Keys(ctx context.Context) ([]Key, error)
}

// Storage is the set of partitions owned by the worker.
type Storage interface {
	// Open returns the named partition, creating it if needed.
	Open(ctx context.Context, name string) (Partition, error)

	// Has reports whether the named partition exists.
	Has(ctx context.Context, name string) (bool, error)

	// Names lists all existing partitions.
	Names(ctx context.Context) ([]string, error)

	// Delete removes the named partition and all its entries.
	// Returns false if the partition did not exist.
	Delete(ctx context.Context, name string) (bool, error)
}
