package cache

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache is a byte-oriented TTL cache. Misses and backend failures both report false;
// callers fall back to the source of truth.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

type memory struct {
	mu  sync.Mutex
	m   map[string]entry
	now func() time.Time
}

type entry struct {
	b   []byte
	exp time.Time
}

// New returns an in-process cache
func New() Cache { return &memory{m: make(map[string]entry), now: time.Now} }

func (c *memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && c.now().After(e.exp) {
		delete(c.m, key)
		return nil, false
	}
	return append([]byte(nil), e.b...), true
}

func (c *memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = c.now().Add(ttl)
	}
	c.m[key] = e
}

// redisCache adapts a go-redis v9 client; every call is bounded by timeout
type redisCache struct {
	r       *redis.Client
	timeout time.Duration
}

// NewRedis returns a Redis-backed cache
func NewRedis(client *redis.Client, timeout time.Duration) Cache {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &redisCache{r: client, timeout: timeout}
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_ = r.r.Set(ctx, key, val, ttl).Err()
}
