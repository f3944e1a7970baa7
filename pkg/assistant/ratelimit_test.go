package assistant

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"

	"github.com/covebase/cove/pkg/observability"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	rl := NewRateLimiter(client, 2, time.Minute, nil, logger)
	ctx := context.Background()

	assert.True(t, rl.Allow(ctx, "user-1"))
	assert.True(t, rl.Allow(ctx, "user-1"))
	assert.False(t, rl.Allow(ctx, "user-1"))

	// Other users have their own window.
	assert.True(t, rl.Allow(ctx, "user-2"))
}

func TestRateLimiterWindowResetsDespiteRetries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	rl := NewRateLimiter(client, 2, time.Minute, nil, logger)
	ctx := context.Background()

	assert.True(t, rl.Allow(ctx, "user-1"))
	assert.True(t, rl.Allow(ctx, "user-1"))

	// Denied retries mid-window must not push the window's expiry out.
	mr.FastForward(30 * time.Second)
	assert.False(t, rl.Allow(ctx, "user-1"))

	mr.FastForward(31 * time.Second)
	assert.True(t, rl.Allow(ctx, "user-1"))
}

func TestRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	rl := NewRateLimiter(client, 1, time.Minute, nil, logger)

	assert.True(t, rl.Allow(context.Background(), "user-1"))
	assert.True(t, rl.Allow(context.Background(), "user-1"))
}
