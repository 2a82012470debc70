package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func exerciseCache(t *testing.T, c Cache, expire func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "device:1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "device:1", []byte(`{"device_id":"1"}`), time.Minute))
	require.NoError(t, c.Set(ctx, "device:2", []byte(`{"device_id":"2"}`), time.Minute))

	raw, ok, err := c.Get(ctx, "device:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"device_id":"1"}`, string(raw))

	require.NoError(t, c.Delete(ctx, "device:1"))
	_, ok, err = c.Get(ctx, "device:1")
	require.NoError(t, err)
	require.False(t, ok)

	expire(2 * time.Minute)
	_, ok, err = c.Get(ctx, "device:2")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Delete(ctx))
	require.NoError(t, c.Ping(ctx))
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	exerciseCache(t, c, func(d time.Duration) { now = now.Add(d) })
	require.Zero(t, c.Len())
}

func TestRedisCache(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+srv.Addr())
	require.NoError(t, err)
	c := NewRedisCache(client)
	t.Cleanup(func() { _ = c.Close() })

	exerciseCache(t, c, srv.FastForward)
	require.False(t, srv.Exists(keyPrefix+"device:2"))
}

func TestConnectPlainAddress(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := Connect(context.Background(), srv.Addr())
	require.NoError(t, err)
	require.NoError(t, NewRedisCache(client).Ping(context.Background()))
}
