package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/covebase/cove/pkg/observability"
)

// RateLimiter gates chat requests per user with a fixed Redis window.
// This runs before any plan-limit check; it protects the completion
// backend, not the subscription quota.
type RateLimiter struct {
	redis   *redis.Client
	limit   int
	window  time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewRateLimiter creates a chat rate limiter.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, metrics *observability.Metrics, logger *observability.Logger) *RateLimiter {
	return &RateLimiter{
		redis:   client,
		limit:   limit,
		window:  window,
		metrics: metrics,
		logger:  logger.WithComponent("chat_ratelimit"),
	}
}

// Allow reports whether a user may make another chat request in the
// current window. Redis failures fail open so chat stays available.
func (rl *RateLimiter) Allow(ctx context.Context, userID string) bool {
	key := fmt.Sprintf("chat_rl:%s", userID)

	count, err := rl.redis.Incr(ctx, key).Result()
	if err != nil {
		rl.logger.WithError(err).Warn("rate limit check failed, allowing request")
		return true
	}
	// The first increment opens the window; later ones must not re-arm
	// the TTL or a retrying client would never see it reset.
	if count == 1 {
		if err := rl.redis.Expire(ctx, key, rl.window).Err(); err != nil {
			rl.logger.WithError(err).Warn("failed to set rate limit window")
		}
	}

	allowed := count <= int64(rl.limit)
	if !allowed && rl.metrics != nil {
		rl.metrics.RateLimitedTotal.WithLabelValues("chat").Inc()
	}
	return allowed
}
