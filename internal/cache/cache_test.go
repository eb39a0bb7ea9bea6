package cache

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Digest   []byte
	Attempts int
}

func testCacher(t *testing.T, c Cacher) {
	t.Helper()
	ctx := context.Background()
	in := entry{Digest: []byte{1, 2, 3}, Attempts: 2}

	require.NoError(t, c.Set(ctx, "k", in, time.Minute))
	var out entry
	require.NoError(t, c.Get(ctx, "k", &out))
	assert.Equal(t, in, out)

	var taken entry
	require.NoError(t, c.Take(ctx, "k", &taken))
	assert.Equal(t, in, taken)
	assert.ErrorIs(t, c.Take(ctx, "k", &taken), ErrNotFound)
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrNotFound)

	require.NoError(t, c.Set(ctx, "d", in, time.Minute))
	require.NoError(t, c.Delete(ctx, "d"))
	assert.ErrorIs(t, c.Get(ctx, "d", &out), ErrNotFound)

	ok, err := c.SetNX(ctx, "nx", in, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.SetNX(ctx, "nx", entry{Attempts: 9}, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "SetNX must not overwrite")
	require.NoError(t, c.Get(ctx, "nx", &out))
	assert.Equal(t, in, out)

	for want := int64(1); want <= 3; want++ {
		n, err := c.Incr(ctx, "counter", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// Exactly one concurrent Take wins.
	require.NoError(t, c.Set(ctx, "race", in, time.Minute))
	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var e entry
			if c.Take(ctx, "race", &e) == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, won.Load())
}

func TestMemoryCache(t *testing.T) {
	testCacher(t, NewMemoryCache(1024*1024))
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(1024 * 1024)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "short", entry{Attempts: 1}, 1500*time.Millisecond))
	var out entry
	require.NoError(t, c.Get(ctx, "short", &out), "fractional ttl must round up")
	time.Sleep(3100 * time.Millisecond)
	assert.ErrorIs(t, c.Get(ctx, "short", &out), ErrNotFound)
}

func TestExpireSeconds(t *testing.T) {
	assert.Equal(t, 0, expireSeconds(0))
	assert.Equal(t, 1, expireSeconds(time.Millisecond))
	assert.Equal(t, 300, expireSeconds(5*time.Minute))
}

func TestNewDefaultsToMemory(t *testing.T) {
	c, err := New(context.Background(), Options{MaxSize: 1024 * 1024})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)
}

// TestRedisCache runs against a real server when VANISH_TEST_REDIS_ADDR is set.
func TestRedisCache(t *testing.T) {
	addr := os.Getenv("VANISH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VANISH_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), Options{RedisAddr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.(*RedisCache).Close() })
	testCacher(t, c)
}

func TestNewRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, Options{RedisAddr: "127.0.0.1:1"})
	assert.Error(t, err)
}
