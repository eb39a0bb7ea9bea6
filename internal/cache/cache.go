// Package cache provides a small msgpack-encoded key/value cache with an
// in-process (freecache) and a shared (Redis) implementation. It backs
// short-lived state such as OTP challenges.
package cache

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

const keyPrefix = "vanish:"

// Cacher stores values with an expiration.
type Cacher interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Take atomically reads and removes key. Of several concurrent callers at
	// most one receives the value.
	Take(ctx context.Context, key string, value any) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error)
	// Incr atomically adds one to the counter at key, creating it at 1, and
	// refreshes its expiration. Counters are only read back through Incr.
	Incr(ctx context.Context, key string, expiration time.Duration) (int64, error)
}

// Options selects and sizes the cache.
type Options struct {
	RedisAddr     string
	RedisPassword string
	MaxSize       int // bytes, memory cache only
}

// New returns a Redis cache when an address is configured and a memory cache
// otherwise. The Redis connection is checked with a ping.
func New(ctx context.Context, o Options) (Cacher, error) {
	if o.RedisAddr == "" {
		return NewMemoryCache(o.MaxSize), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:            o.RedisAddr,
		Password:        o.RedisPassword,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnMaxLifetime: time.Hour,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisCache(client), nil
}

// MemoryCache is an in-process Cacher on freecache.
type MemoryCache struct {
	cache *freecache.Cache
	mu    sync.RWMutex // write-locked by read-modify-write operations
}

// NewMemoryCache allocates a cache of size bytes (freecache enforces a
// 512KiB minimum).
func NewMemoryCache(size int) *MemoryCache {
	return &MemoryCache{cache: freecache.NewCache(size)}
}

// expireSeconds rounds up so sub-second expirations do not become "never"
// (freecache treats 0 as no expiry).
func expireSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func (m *MemoryCache) Get(_ context.Context, key string, value any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, err := m.cache.Get([]byte(keyPrefix + key))
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return msgpack.Unmarshal(data, value)
}

func (m *MemoryCache) Set(_ context.Context, key string, value any, expiration time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.Set([]byte(keyPrefix+key), data, expireSeconds(expiration))
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, key := range keys {
		m.cache.Del([]byte(keyPrefix + key))
	}
	return nil
}

func (m *MemoryCache) Take(_ context.Context, key string, value any) error {
	m.mu.Lock()
	k := []byte(keyPrefix + key)
	data, err := m.cache.Get(k)
	if err == nil {
		m.cache.Del(k)
	}
	m.mu.Unlock()
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return msgpack.Unmarshal(data, value)
}

func (m *MemoryCache) SetNX(_ context.Context, key string, value any, expiration time.Duration) (bool, error) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return false, err
	}
	k := []byte(keyPrefix + key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.cache.Get(k); err == nil {
		return false, nil
	}
	if err := m.cache.Set(k, data, expireSeconds(expiration)); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MemoryCache) Incr(_ context.Context, key string, expiration time.Duration) (int64, error) {
	k := []byte(keyPrefix + key)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	data, err := m.cache.Get(k)
	switch {
	case err == nil:
		if err := msgpack.Unmarshal(data, &n); err != nil {
			return 0, err
		}
	case !errors.Is(err, freecache.ErrNotFound):
		return 0, err
	}
	n++
	data, err = msgpack.Marshal(n)
	if err != nil {
		return 0, err
	}
	if err := m.cache.Set(k, data, expireSeconds(expiration)); err != nil {
		return 0, err
	}
	return n, nil
}

// RedisCache is a Cacher shared between instances through Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string, value any) error {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	return msgpack.Unmarshal(data, value)
}

func (r *RedisCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, keyPrefix+key, data, expiration).Err()
}

func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}
	return r.client.Del(ctx, prefixed...).Err()
}

// Take uses GETDEL (Redis 6.2+).
func (r *RedisCache) Take(ctx context.Context, key string, value any) error {
	data, err := r.client.GetDel(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	return msgpack.Unmarshal(data, value)
}

func (r *RedisCache) SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return false, err
	}
	return r.client.SetNX(ctx, keyPrefix+key, data, expiration).Result()
}

func (r *RedisCache) Incr(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, keyPrefix+key)
		p.Expire(ctx, keyPrefix+key, expiration)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Close releases the Redis connection pool.
func (r *RedisCache) Close() error { return r.client.Close() }
