//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	client := newRedisClient(t)
	s := NewRedisStore(client, WithKeyPrefix("test:"))
	ctx := context.Background()
	ns := []string{"ciba", "requests", "thread-1"}

	t.Run("missing", func(t *testing.T) {
		_, ok, err := s.Get(ctx, ns, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put get delete", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, ns, "request", []byte(`{"id":"r1"}`), 0))

		got, ok, err := s.Get(ctx, ns, "request")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"id":"r1"}`, string(got))

		require.NoError(t, s.Delete(ctx, ns, "request"))
		_, ok, err = s.Get(ctx, ns, "request")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ttl is set on the key", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, ns, "credentials", []byte(`{}`), 90*time.Second))

		ttl, err := client.TTL(ctx, "test:"+EncodeKey(ns, "credentials")).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 80*time.Second)
		assert.LessOrEqual(t, ttl, 90*time.Second)
	})
}
