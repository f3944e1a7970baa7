package api

import (
	"net/http"

	"github.com/covebase/cove/pkg/httputil"
	"github.com/covebase/cove/pkg/limits"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/tenant"
	"github.com/covebase/cove/pkg/usage"
)

type usageHandlers struct {
	resolver *orgs.Resolver
	ledger   *usage.Ledger
	enforcer *limits.Enforcer
}

func newUsageHandlers(deps Deps) *usageHandlers {
	return &usageHandlers{
		resolver: deps.Resolver,
		ledger:   deps.Ledger,
		enforcer: deps.Enforcer,
	}
}

// get handles GET /usage: this month's counters, the plan's limits and
// any approaching-limit warnings.
func (h *usageHandlers) get(w http.ResponseWriter, r *http.Request) {
	tc, err := tenant.From(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	org, err := h.resolver.Resolve(r.Context(), tc.OrgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	lims, err := plans.Get(org.Plan)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	counter, err := currentUsage(r.Context(), h.ledger)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, struct {
		Plan     plans.Tier       `json:"plan"`
		Period   string           `json:"period"`
		Usage    *usage.Counter   `json:"usage"`
		Limits   plans.Limits     `json:"limits"`
		Warnings []limits.Warning `json:"warnings"`
	}{
		Plan:     org.Plan,
		Period:   counter.Period,
		Usage:    counter,
		Limits:   lims,
		Warnings: h.enforcer.Warnings(org, counter),
	})
}
