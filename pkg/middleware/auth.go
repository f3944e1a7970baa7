package middleware

import (
	"net/http"
	"strings"

	"github.com/covebase/cove/pkg/auth"
	"github.com/covebase/cove/pkg/contextkeys"
	"github.com/covebase/cove/pkg/httputil"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/tenant"
)

// AuthMiddleware authenticates bearer tokens and binds the caller's
// tenant context. Every handler behind it can rely on tenant.From
// succeeding.
type AuthMiddleware struct {
	issuer   *auth.TokenIssuer
	users    orgs.Service
	resolver *orgs.Resolver
}

// NewAuthMiddleware creates the authentication middleware.
func NewAuthMiddleware(issuer *auth.TokenIssuer, users orgs.Service, resolver *orgs.Resolver) *AuthMiddleware {
	return &AuthMiddleware{
		issuer:   issuer,
		users:    users,
		resolver: resolver,
	}
}

// Handler wraps an HTTP handler with authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		userID, err := m.issuer.Parse(parts[1], auth.TokenTypeAccess)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		user, err := m.users.GetUserByID(r.Context(), userID)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		// The org lookup warms the resolver cache for downstream plan
		// checks and rejects tokens for orgs that no longer exist.
		if _, err := m.resolver.Resolve(r.Context(), user.OrgID); err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := tenant.With(r.Context(), &tenant.Context{
			OrgID:  user.OrgID,
			UserID: user.ID,
			Role:   user.Role,
		})
		ctx = contextkeys.WithUserID(ctx, user.ID.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a handler on the caller's org role.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, err := tenant.From(r.Context())
			if err != nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			for _, role := range roles {
				if tc.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.WriteForbidden(w, "insufficient role")
		})
	}
}
