package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	redisOpDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolauth_store_redis_op_duration_ms",
		Help:    "Latency of Redis store operations in milliseconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
	}, []string{"op"})
)

// DefaultRedisPrefix is prepended to every Redis key.
const DefaultRedisPrefix = "toolauth:"

// RedisStore is a Redis-backed Store for hosts running several instances
// against shared authorization state. Expiry is delegated to Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides DefaultRedisPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore wraps an existing client. The client lifecycle is managed by
// the caller.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) key(namespace []string, key string) string {
	return s.prefix + EncodeKey(namespace, key)
}

func observe(op string, start time.Time) {
	redisOpDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

func (s *RedisStore) Get(ctx context.Context, namespace []string, key string) ([]byte, bool, error) {
	defer observe("get", time.Now())

	val, err := s.client.Get(ctx, s.key(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read redis entry: %w", err)
	}
	return val, true, nil
}

// Put uses SET with EX when ttl is positive.
func (s *RedisStore) Put(ctx context.Context, namespace []string, key string, value []byte, ttl time.Duration) error {
	defer observe("put", time.Now())

	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(namespace, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write redis entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, namespace []string, key string) error {
	defer observe("delete", time.Now())

	if err := s.client.Del(ctx, s.key(namespace, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete redis entry: %w", err)
	}
	return nil
}
