package api

import (
	"net/http"

	"github.com/covebase/cove/pkg/audit"
	"github.com/covebase/cove/pkg/auth"
	"github.com/covebase/cove/pkg/documents"
	"github.com/covebase/cove/pkg/httputil"
	"github.com/covebase/cove/pkg/objstore"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/tenant"
)

type orgHandlers struct {
	orgs      orgs.Service
	resolver  *orgs.Resolver
	documents *documents.Store
	objects   objstore.Store
	audit     *auditRecorder
	logger    *observability.Logger
}

func newOrgHandlers(deps Deps) *orgHandlers {
	return &orgHandlers{
		orgs:      deps.Orgs,
		resolver:  deps.Resolver,
		documents: deps.Documents,
		objects:   deps.Objects,
		audit:     &auditRecorder{logger: deps.Audit, log: deps.Logger},
		logger:    deps.Logger.WithComponent("org_handlers"),
	}
}

// get handles GET /settings/org.
func (h *orgHandlers) get(w http.ResponseWriter, r *http.Request) {
	tc, err := tenant.From(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	org, err := h.orgs.GetOrganization(r.Context(), tc.OrgID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// update handles PATCH /settings/org.
func (h *orgHandlers) update(w http.ResponseWriter, r *http.Request) {
	tc, err := tenant.From(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	var req orgs.UpdateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.orgs.UpdateOrganization(r.Context(), tc.OrgID, &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.resolver.Invalidate(tc.OrgID)
	h.audit.record(r.Context(), audit.ActionOrgUpdated, map[string]interface{}{
		"org_id": tc.OrgID.String(),
	})
	httputil.WriteSuccess(w, org)
}

// delete handles DELETE /settings/org. Owner only; removes the org and
// every record scoped to it via foreign-key cascade.
func (h *orgHandlers) delete(w http.ResponseWriter, r *http.Request) {
	tc, err := tenant.From(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	// Stored objects live outside the database, so they are removed
	// best-effort before the rows that reference them go away.
	docs, err := h.documents.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Warn("Failed to list documents before org deletion")
	}
	for _, doc := range docs {
		if err := h.objects.Delete(r.Context(), doc.StorageKey); err != nil {
			h.logger.WithError(err).WithField("document_id", doc.ID.String()).
				Warn("Failed to delete stored object")
		}
	}

	if err := h.orgs.DeleteOrganization(r.Context(), tc.OrgID); err != nil {
		writeDomainError(w, err)
		return
	}

	h.resolver.Invalidate(tc.OrgID)
	h.logger.WithOrg(tc.OrgID.String()).WithField("user_id", tc.UserID.String()).
		Info("Organization deleted by owner")
	httputil.WriteNoContent(w)
}

// changePassword handles POST /settings/password for the caller.
func (h *orgHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	tc, err := tenant.From(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.orgs.GetUserByID(r.Context(), tc.UserID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !auth.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		httputil.WriteUnauthorized(w, "current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	if err := h.orgs.UpdatePassword(r.Context(), tc.UserID, hash); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.audit.record(r.Context(), audit.ActionPasswordChanged, nil)
	httputil.WriteSuccessMessage(w, "password updated", nil)
}
