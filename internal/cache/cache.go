// Package cache provides the read API's cache-aside layer: a byte-slice
// Cache interface with a Redis adapter and a bounded in-process fallback,
// so callers don't care which backend is active.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a byte-slice cache-aside store with TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

// defaultMaxEntries bounds the in-process cache. The read API keys by
// (area, contract) and (area, date), so a few hundred entries covers
// every hot key; the bound exists so an unconfigured deployment can
// never grow the cache without limit.
const defaultMaxEntries = 512

// Memory is an in-process, size-bounded Cache, used when no Redis
// address is configured and in tests. Expired entries are deleted on
// read; when the bound is hit, Set sweeps expired entries first and
// otherwise evicts the entry closest to expiry.
type Memory struct {
	mu  sync.Mutex
	max int
	m   map[string]memEntry
}

type memEntry struct {
	val []byte
	exp time.Time // zero means no expiry
}

// NewMemory returns an empty Memory cache with the default size bound.
func NewMemory() *Memory {
	return &Memory{max: defaultMaxEntries, m: make(map[string]memEntry)}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(c.m, key)
		return nil, false
	}
	return e.val, true
}

func (c *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.m[key]; !exists && len(c.m) >= c.max {
		c.evictLocked()
	}

	e := memEntry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
}

// evictLocked frees at least one slot: expired entries go first, then the
// live entry closest to expiry (no-expiry entries count as furthest).
func (c *Memory) evictLocked() {
	now := time.Now()
	freed := false
	var victim string
	var victimExp time.Time

	for k, e := range c.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(c.m, k)
			freed = true
			continue
		}
		if victim == "" || soonerExpiry(e.exp, victimExp) {
			victim, victimExp = k, e.exp
		}
	}
	if !freed && victim != "" {
		delete(c.m, victim)
	}
}

// soonerExpiry reports whether a expires before b, treating a zero time
// as "never expires".
func soonerExpiry(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	if b.IsZero() {
		return true
	}
	return a.Before(b)
}

// Redis adapts a go-redis client to Cache.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr. Connectivity isn't verified here; callers
// that want a fail-fast startup should Ping the underlying client.
func NewRedis(addr string) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Client exposes the underlying go-redis client, e.g. for a startup Ping.
func (r *Redis) Client() *redis.Client { return r.client }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	_ = r.client.Set(ctx, key, val, ttl).Err()
}

// NewAuto returns a Redis cache when addr is non-empty, else an
// in-process Memory cache.
func NewAuto(addr string) Cache {
	if addr != "" {
		return NewRedis(addr)
	}
	return NewMemory()
}
