package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"scan-dispatcher/internal/config"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	allowed, _, err := bucket.Allow(ctx, "agent:1")
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, _, _ = bucket.Allow(ctx, "agent:1")
	require.True(t, allowed)
	allowed, _, _ = bucket.Allow(ctx, "agent:1")
	require.False(t, allowed, "third request should be rejected")

	// Buckets are per key.
	allowed, _, err = bucket.Allow(ctx, "agent:2")
	require.NoError(t, err)
	require.True(t, allowed)

	require.True(t, mr.Exists("rl:agent:1"))
	// Refill can't be driven with mr.FastForward: the script takes its clock from Go.
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(2, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		allowed, _, err := l.Allow(ctx, "agent:1")
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, tokens, _ := l.Allow(ctx, "agent:1")
	require.False(t, allowed)
	require.Less(t, tokens, 1.0)

	allowed, _, _ = l.Allow(ctx, "agent:2")
	require.True(t, allowed)

	now = now.Add(time.Second)
	allowed, _, _ = l.Allow(ctx, "agent:1")
	require.True(t, allowed, "one token should refill after a second")
}

func TestNew(t *testing.T) {
	lim, err := New(config.Config{RateLimitBackend: config.BackendOff}, nil)
	require.NoError(t, err)
	require.Nil(t, lim)

	lim, err = New(config.Config{RateLimitBackend: config.BackendLocal, RateLimitCapacity: 1, RateLimitRefill: 1}, nil)
	require.NoError(t, err)
	require.IsType(t, &Local{}, lim)

	_, err = New(config.Config{RateLimitBackend: config.BackendRedis}, nil)
	require.Error(t, err)

	_, err = New(config.Config{RateLimitBackend: "carrier-pigeon"}, nil)
	require.Error(t, err)
}
