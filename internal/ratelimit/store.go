// Package ratelimit is a fixed-window request limiter with a pluggable counter store.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store counts hits per key within a fixed window.
type Store interface {
	// Incr adds one hit to key and returns the count in the current window and when it resets.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

type counter struct {
	count   int64
	resetAt time.Time
}

// MemoryStore keeps counters in process memory. Expired windows are dropped lazily.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	nowFunc  func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: map[string]*counter{}, nowFunc: time.Now}
}

func (m *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFunc()
	c, ok := m.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &counter{resetAt: now.Add(window)}
		m.counters[key] = c
	}
	c.count++
	if len(m.counters) > 10000 {
		m.sweep(now)
	}
	return c.count, c.resetAt, nil
}

func (m *MemoryStore) sweep(now time.Time) {
	for k, c := range m.counters {
		if !now.Before(c.resetAt) {
			delete(m.counters, k)
		}
	}
}

// RedisStore keeps counters in Redis so every instance shares one window per key.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore returns a RedisStore writing keys under prefix.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	k := r.prefix + key
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("redis incr %s: %w", k, err)
	}

	remaining := ttl.Val()
	if remaining <= 0 {
		// first hit of the window
		if err := r.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("redis expire %s: %w", k, err)
		}
		remaining = window
	}
	return incr.Val(), time.Now().Add(remaining), nil
}
