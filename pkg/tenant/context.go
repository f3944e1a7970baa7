// Package tenant carries the caller's organization identity through the
// request path. Every org-scoped database operation requires a tenant
// context; the storage layer refuses to run scoped queries without one.
package tenant

import (
	"context"
	"errors"

	"github.com/covebase/cove/pkg/contextkeys"
	"github.com/google/uuid"
)

// ErrNoTenant is returned when an org-scoped operation runs without a
// tenant context. This is a programming error in the call path, not a
// user-facing condition.
var ErrNoTenant = errors.New("no tenant in context")

// Context identifies the organization and user on whose behalf a
// request executes.
type Context struct {
	OrgID  uuid.UUID
	UserID uuid.UUID
	Role   string
}

// With attaches a tenant context.
func With(ctx context.Context, tc *Context) context.Context {
	return contextkeys.WithTenant(ctx, tc)
}

// From extracts the tenant context. Returns ErrNoTenant when absent.
func From(ctx context.Context) (*Context, error) {
	tc, ok := ctx.Value(contextkeys.TenantKey).(*Context)
	if !ok || tc == nil {
		return nil, ErrNoTenant
	}
	return tc, nil
}

// MustFrom extracts the tenant context and panics when absent. For call
// sites that sit strictly behind the tenant middleware.
func MustFrom(ctx context.Context) *Context {
	tc, err := From(ctx)
	if err != nil {
		panic(err)
	}
	return tc
}
