package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/tenant"
)

// RateLimitConfig defines a fixed-window limit.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig is the anonymous-request limit.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
	}
}

// PerUserRateLimitConfig is the authenticated-request limit.
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
	}
}

// RateLimiter enforces fixed-window limits in Redis so the count is
// shared across instances. Windows reset via key expiry.
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewRateLimiter creates a Redis-backed rate limiter.
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Allow checks and consumes one request from the window.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		// Fail open on Redis errors to keep the API available.
		return true, fmt.Errorf("redis error: %w", err)
	}
	// Only the increment that opens the window sets the TTL; re-arming
	// it on every request would keep blocked retriers blocked forever.
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}

	return count <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns how many requests are left in the window.
func (rl *RateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TTL returns the time until the window resets.
func (rl *RateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Result()
}

// RateLimitMiddleware limits requests per authenticated user, falling
// back to a stricter per-IP limit for anonymous requests.
type RateLimitMiddleware struct {
	userLimiter *RateLimiter
	anonLimiter *RateLimiter
	metrics     *observability.Metrics
}

// NewRateLimitMiddleware creates the HTTP rate limit middleware.
func NewRateLimitMiddleware(redisClient *redis.Client, metrics *observability.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		userLimiter: NewRateLimiter(redisClient, PerUserRateLimitConfig(), "ratelimit:user"),
		anonLimiter: NewRateLimiter(redisClient, DefaultRateLimitConfig(), "ratelimit:anon"),
		metrics:     metrics,
	}
}

// Handler wraps an HTTP handler with rate limiting.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var key, scope string
		var limiter *RateLimiter
		if tc, err := tenant.From(ctx); err == nil {
			key = "user:" + tc.UserID.String()
			scope = "user"
			limiter = m.userLimiter
		} else {
			key = "ip:" + clientIP(r)
			scope = "anon"
			limiter = m.anonLimiter
		}

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			// Redis down: serve the request without headers.
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			if m.metrics != nil {
				m.metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
			}
			m.rateLimitExceeded(ctx, w, limiter, key)
			return
		}

		if remaining, err := limiter.Remaining(ctx, key); err == nil {
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) rateLimitExceeded(ctx context.Context, w http.ResponseWriter, limiter *RateLimiter, key string) {
	retryAfter := limiter.config.WindowDuration.Seconds()
	if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
		retryAfter = ttl.Seconds()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded","retry_after":` + fmt.Sprintf("%.0f", retryAfter) + `}`))
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx >= 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
