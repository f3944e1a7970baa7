// Package middleware provides HTTP middleware for authentication, role
// checks, and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: Bearer-token authentication
//
//	authMW := middleware.NewAuthMiddleware(issuer, users, resolver)
//	router.Use(authMW.Handler)
//	// Parses the access token, loads the user, and binds the tenant
//	// context for the rest of the request.
//
// RequireRole: membership role enforcement
//
//	router.Handle("/team/invites", middleware.RequireRole("owner", "admin")(handler))
//
// RateLimitMiddleware: Redis-backed fixed-window rate limiting
//
//	rlMW := middleware.NewRateLimitMiddleware(redisClient, metrics)
//	router.Use(rlMW.Handler)
//
// # Rate Limiting
//
// Authenticated requests are limited per user (1000 req/min); anonymous
// requests are limited per client IP (100 req/min). Counters live in
// Redis so limits hold across instances. When Redis is unavailable the
// limiter fails open.
//
// # Related Packages
//
//   - pkg/auth: Token parsing
//   - pkg/tenant: Request-scoped tenant context
//   - pkg/orgs: User and organization lookup
package middleware
