package store

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks

// Store is a namespaced key-value store with optional per-entry expiry.
// A ttl of zero means the entry does not expire at the store level.
type Store interface {
	Get(ctx context.Context, namespace []string, key string) ([]byte, bool, error)
	Put(ctx context.Context, namespace []string, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, namespace []string, key string) error
}

// EncodeKey flattens a namespace and key into a single string. Each segment
// is escaped so that distinct (namespace, key) pairs never collide.
func EncodeKey(namespace []string, key string) string {
	parts := make([]string, 0, len(namespace)+1)
	for _, segment := range namespace {
		parts = append(parts, url.QueryEscape(segment))
	}
	parts = append(parts, url.QueryEscape(key))
	return strings.Join(parts, ":")
}

// envelope is the persisted form used by backends without native expiry.
type envelope struct {
	Namespace []string        `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	ExpiresAt int64           `json:"expiresAt,omitempty"` // unix nanoseconds, 0 = never
}

func newEnvelope(namespace []string, key string, value []byte, ttl time.Duration, now time.Time) envelope {
	e := envelope{Namespace: namespace, Key: key, Value: json.RawMessage(value)}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl).UnixNano()
	}
	return e
}

func (e envelope) expired(now time.Time) bool {
	return e.ExpiresAt != 0 && now.UnixNano() >= e.ExpiresAt
}
