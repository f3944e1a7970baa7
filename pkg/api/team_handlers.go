package api

import (
	"errors"
	"net/http"

	"github.com/covebase/cove/pkg/audit"
	"github.com/covebase/cove/pkg/auth"
	"github.com/covebase/cove/pkg/httputil"
	"github.com/covebase/cove/pkg/limits"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/tenant"
	"github.com/covebase/cove/pkg/usage"
)

type teamHandlers struct {
	orgs     orgs.Service
	issuer   *auth.TokenIssuer
	resolver *orgs.Resolver
	ledger   *usage.Ledger
	enforcer *limits.Enforcer
	audit    *auditRecorder
	logger   *observability.Logger
}

func newTeamHandlers(deps Deps) *teamHandlers {
	return &teamHandlers{
		orgs:     deps.Orgs,
		issuer:   deps.Issuer,
		resolver: deps.Resolver,
		ledger:   deps.Ledger,
		enforcer: deps.Enforcer,
		audit:    &auditRecorder{logger: deps.Audit, log: deps.Logger},
		logger:   deps.Logger.WithComponent("team_handlers"),
	}
}

// listMembers handles GET /team/members.
func (h *teamHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.orgs.ListMembers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

// updateRole handles PATCH /team/members/{id}/role.
func (h *teamHandlers) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "invalid member id")
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	err := h.orgs.UpdateMemberRole(r.Context(), id, req.Role)
	if errors.Is(err, orgs.ErrNotFound) {
		httputil.WriteNotFoundError(w, "member not found")
		return
	}
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	h.audit.record(r.Context(), audit.ActionMemberRoleChanged, map[string]interface{}{
		"member_id": id.String(),
		"role":      req.Role,
	})
	httputil.WriteSuccessMessage(w, "role updated", nil)
}

// removeMember handles DELETE /team/members/{id}.
func (h *teamHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "invalid member id")
		return
	}

	err := h.orgs.RemoveMember(r.Context(), id)
	if errors.Is(err, orgs.ErrNotFound) {
		httputil.WriteNotFoundError(w, "member not found")
		return
	}
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	h.audit.record(r.Context(), audit.ActionMemberRemoved, map[string]interface{}{
		"member_id": id.String(),
	})
	httputil.WriteNoContent(w)
}

// createInvite handles POST /team/invites. Invites consume a seat at
// acceptance, so the seat limit is checked up front.
func (h *teamHandlers) createInvite(w http.ResponseWriter, r *http.Request) {
	tc, err := tenant.From(r.Context())
	if err != nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" {
		httputil.WriteValidationError(w, "email is required")
		return
	}
	if req.Role == "" {
		req.Role = orgs.RoleMember
	}

	org, err := h.resolver.Resolve(r.Context(), tc.OrgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	counter, err := currentUsage(r.Context(), h.ledger)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if err := h.enforcer.Check(r.Context(), org, counter, usage.KindSeats); err != nil {
		writeDomainError(w, err)
		return
	}

	invite, err := h.orgs.CreateInvite(r.Context(), req.Email, req.Role)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	h.audit.record(r.Context(), audit.ActionMemberInvited, map[string]interface{}{
		"email": req.Email,
		"role":  req.Role,
	})
	httputil.WriteCreated(w, invite)
}

// listInvites handles GET /team/invites.
func (h *teamHandlers) listInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := h.orgs.ListInvites(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, invites)
}

// revokeInvite handles DELETE /team/invites/{id}.
func (h *teamHandlers) revokeInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "invalid invite id")
		return
	}

	err := h.orgs.RevokeInvite(r.Context(), id)
	if errors.Is(err, orgs.ErrNotFound) {
		httputil.WriteNotFoundError(w, "invite not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.audit.record(r.Context(), audit.ActionInviteRevoked, map[string]interface{}{
		"invite_id": id.String(),
	})
	httputil.WriteNoContent(w)
}

// acceptInvite handles POST /team/invites/accept. Unauthenticated; the
// invite token is the credential.
func (h *teamHandlers) acceptInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Token == "" || req.Password == "" {
		httputil.WriteValidationError(w, "token and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	user, err := h.orgs.AcceptInvite(r.Context(), req.Token, hash, req.FullName)
	if errors.Is(err, orgs.ErrNotFound) {
		httputil.WriteNotFoundError(w, "invite not found or expired")
		return
	}
	if errors.Is(err, orgs.ErrDuplicateEmail) {
		httputil.WriteConflict(w, "email already in use")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	access, err := h.issuer.IssueAccess(user.ID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	refresh, err := h.issuer.IssueRefresh(user.ID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, struct {
		tokenPair
		User *orgs.User `json:"user"`
	}{tokenPair{access, refresh}, user})
}
