package store

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"toolauth/internal/clock"
)

// DefaultMemoryCapacity bounds the number of entries kept by a MemoryStore.
const DefaultMemoryCapacity = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store. Expired entries are dropped when read;
// once capacity is reached the cache evicts entries on its own.
type MemoryStore struct {
	cache otter.Cache[string, memoryEntry]
	clock clock.Clock
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	capacity int
	clock    clock.Clock
}

// WithCapacity sets the maximum number of entries.
func WithCapacity(n int) MemoryOption {
	return func(o *memoryOptions) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithClock sets the clock used for expiry.
func WithClock(c clock.Clock) MemoryOption {
	return func(o *memoryOptions) {
		o.clock = c
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) (*MemoryStore, error) {
	o := memoryOptions{capacity: DefaultMemoryCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	cache, err := otter.MustBuilder[string, memoryEntry](o.capacity).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build memory store: %w", err)
	}

	return &MemoryStore{cache: cache, clock: clock.OrReal(o.clock)}, nil
}

// Get returns the value stored under namespace/key.
func (s *MemoryStore) Get(_ context.Context, namespace []string, key string) ([]byte, bool, error) {
	k := EncodeKey(namespace, key)
	entry, ok := s.cache.Get(k)
	if !ok {
		return nil, false, nil
	}
	if entry.expired(s.clock.Now()) {
		s.cache.Delete(k)
		return nil, false, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Put stores value under namespace/key.
func (s *MemoryStore) Put(_ context.Context, namespace []string, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.clock.Now().Add(ttl)
	}
	s.cache.Set(EncodeKey(namespace, key), entry)
	return nil
}

// Delete removes namespace/key. Deleting a missing entry is not an error.
func (s *MemoryStore) Delete(_ context.Context, namespace []string, key string) error {
	s.cache.Delete(EncodeKey(namespace, key))
	return nil
}

// Len returns the number of entries currently held, including expired ones
// not yet read.
func (s *MemoryStore) Len() int {
	return s.cache.Size()
}

// Close releases the cache.
func (s *MemoryStore) Close() {
	s.cache.Close()
}
