package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	s, err := NewRedisStore(mr.Addr(), "", 0, "test:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func TestRedisStore_ConnectFailure(t *testing.T) {
	_, err := NewRedisStore("127.0.0.1:1", "", 0, "")
	assert.Error(t, err)
}

func TestRedisStore_GetMissingKey(t *testing.T) {
	s, _ := newTestRedisStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.True(t, IsKeyNotFound(err))
}

func TestRedisStore_IncrementWithExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	value, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)

	value, err = s.IncrementWithExpiry(ctx, "counter", 4, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(5), value)

	value, err = s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(5), value)

	// Expiration was set on first increment only.
	ttl := mr.TTL("test:counter")
	assert.Equal(t, time.Minute, ttl)
}

func TestRedisStore_CounterExpires(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	_, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = s.Get(ctx, "counter")
	assert.True(t, IsKeyNotFound(err))
}

func TestRedisStore_Delete(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "counter"))

	_, err = s.Get(ctx, "counter")
	assert.True(t, IsKeyNotFound(err))
}

func TestRedisStore_KeysArePrefixed(t *testing.T) {
	s, mr := newTestRedisStore(t)

	_, err := s.IncrementWithExpiry(context.Background(), "counter", 1, time.Minute)
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:counter"))
}

func TestRedisStore_CloseIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(mr.Addr(), "", 0, "")
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
