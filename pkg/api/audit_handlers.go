package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/audit"
	"github.com/covebase/cove/pkg/httputil"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/tenant"
)

type auditHandlers struct {
	audit    *audit.Logger
	resolver *orgs.Resolver
}

func newAuditHandlers(deps Deps) *auditHandlers {
	return &auditHandlers{
		audit:    deps.Audit,
		resolver: deps.Resolver,
	}
}

// list handles GET /audit-log. Access is a plan feature.
func (h *auditHandlers) list(w http.ResponseWriter, r *http.Request) {
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
	if !lims.AuditLogAccess {
		httputil.WriteErrorMessage(w, http.StatusPaymentRequired, "audit log access requires a paid plan")
		return
	}

	filter := audit.Filter{
		Action: httputil.ParseQueryString(r, "action", ""),
		Limit:  50,
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httputil.WriteValidationError(w, "invalid user_id")
			return
		}
		filter.UserID = &id
	}
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteValidationError(w, "since must be RFC3339")
			return
		}
		filter.Since = &ts
	}
	if v := r.URL.Query().Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteValidationError(w, "until must be RFC3339")
			return
		}
		filter.Until = &ts
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			httputil.WriteValidationError(w, "limit must be between 1 and 500")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.WriteValidationError(w, "offset must be non-negative")
			return
		}
		filter.Offset = n
	}

	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, entries)
}
