package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Store admits or rejects one event for key under r.
type Store interface {
	Allow(ctx context.Context, key string, r Rate) (bool, error)
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryStore is a per-key token bucket pool: burst equals the limit and the
// bucket refills at limit/window.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket), now: time.Now}
}

func (s *MemoryStore) Allow(_ context.Context, key string, r Rate) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		every := r.Window / time.Duration(r.Limit)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), r.Limit)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// Sweep drops buckets idle for longer than idle and returns how many went.
func (s *MemoryStore) Sweep(idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports how many buckets are live.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// RedisStore counts events in fixed windows shared by every instance.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, r Rate) (bool, error) {
	window := s.now().UnixNano() / int64(r.Window)
	redisKey := fmt.Sprintf("%s:ratelimit:%s:%d", s.prefix, key, window)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, r.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(r.Limit), nil
}
