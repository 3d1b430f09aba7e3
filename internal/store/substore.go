package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"toolauth/pkg/logging"
)

// TTLFunc derives the store TTL of a value. It must be pure.
type TTLFunc[T any] func(T) time.Duration

// NoTTL stores values without store-level expiry.
func NoTTL[T any](T) time.Duration { return 0 }

// SubStore is a typed view of a Store rooted at a fixed namespace prefix.
type SubStore[T any] struct {
	parent Store
	prefix []string
	ttl    TTLFunc[T]
}

// NewSubStore returns a SubStore that prepends prefix to every namespace.
// A nil ttl means NoTTL.
func NewSubStore[T any](parent Store, prefix []string, ttl TTLFunc[T]) *SubStore[T] {
	if ttl == nil {
		ttl = NoTTL[T]
	}
	return &SubStore[T]{
		parent: parent,
		prefix: append([]string(nil), prefix...),
		ttl:    ttl,
	}
}

func (s *SubStore[T]) namespace(ns []string) []string {
	full := make([]string, 0, len(s.prefix)+len(ns))
	full = append(full, s.prefix...)
	return append(full, ns...)
}

// Get loads and decodes the value at ns/key. A value that no longer decodes
// is deleted and reported as absent.
func (s *SubStore[T]) Get(ctx context.Context, ns []string, key string) (T, bool, error) {
	var zero T
	full := s.namespace(ns)

	data, ok, err := s.parent.Get(ctx, full, key)
	if err != nil || !ok {
		return zero, false, err
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		logging.Warn("Store", "Discarding malformed entry %s: %v", EncodeKey(full, key), err)
		if derr := s.parent.Delete(ctx, full, key); derr != nil {
			return zero, false, fmt.Errorf("failed to delete malformed entry: %w", derr)
		}
		return zero, false, nil
	}
	return v, true, nil
}

// Put encodes v and stores it with the TTL derived from v.
func (s *SubStore[T]) Put(ctx context.Context, ns []string, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	ttl := s.ttl(v)
	if ttl < 0 {
		ttl = 0
	}
	return s.parent.Put(ctx, s.namespace(ns), key, data, ttl)
}

func (s *SubStore[T]) Delete(ctx context.Context, ns []string, key string) error {
	return s.parent.Delete(ctx, s.namespace(ns), key)
}
