// Package ratelimit throttles agent requests per agent id.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"scan-dispatcher/internal/config"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Local keeps one x/time/rate limiter per key inside this process.
type Local struct {
	mu       sync.Mutex
	capacity int
	refill   rate.Limit
	buckets  map[string]*rate.Limiter
	now      func() time.Time
}

func NewLocal(capacity int, refillPerSecond float64) *Local {
	return &Local{
		capacity: capacity,
		refill:   rate.Limit(refillPerSecond),
		buckets:  make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

func (l *Local) Allow(_ context.Context, key string) (bool, float64, error) {
	l.mu.Lock()
	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(l.refill, l.capacity)
		l.buckets[key] = lim
	}
	l.mu.Unlock()

	now := l.now()
	allowed := lim.AllowN(now, 1)
	return allowed, lim.TokensAt(now), nil
}

// New builds the limiter selected by cfg.RateLimitBackend. A nil Limiter means
// rate limiting is off. client is only used by the redis backend.
func New(cfg config.Config, client *redis.Client) (Limiter, error) {
	switch cfg.RateLimitBackend {
	case config.BackendOff, "":
		return nil, nil
	case config.BackendLocal:
		return NewLocal(cfg.RateLimitCapacity, cfg.RateLimitRefill), nil
	case config.BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("redis rate limiter needs a redis client")
		}
		return NewTokenBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimitBackend)
	}
}
