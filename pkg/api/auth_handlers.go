package api

import (
	"errors"
	"net/http"

	"github.com/covebase/cove/pkg/auth"
	"github.com/covebase/cove/pkg/httputil"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
)

// authHandlers serves registration, login and token refresh.
type authHandlers struct {
	orgs   orgs.Service
	issuer *auth.TokenIssuer
	audit  *auditRecorder
	logger *observability.Logger
}

func newAuthHandlers(deps Deps) *authHandlers {
	return &authHandlers{
		orgs:   deps.Orgs,
		issuer: deps.Issuer,
		audit:  &auditRecorder{logger: deps.Audit, log: deps.Logger},
		logger: deps.Logger.WithComponent("auth_handlers"),
	}
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (h *authHandlers) issueTokens(w http.ResponseWriter, user *orgs.User, status int) {
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
	httputil.WriteJSON(w, status, struct {
		tokenPair
		User *orgs.User `json:"user"`
	}{tokenPair{access, refresh}, user})
}

// register handles POST /auth/register: a new organization with its
// owner account.
func (h *authHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrgName  string `json:"org_name"`
		Email    string `json:"email"`
		FullName string `json:"full_name"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.OrgName == "" || req.Email == "" || req.Password == "" {
		httputil.WriteValidationError(w, "org_name, email and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	_, owner, err := h.orgs.CreateOrganization(r.Context(), &orgs.CreateOrgRequest{
		Name:       req.OrgName,
		OwnerEmail: req.Email,
		OwnerName:  req.FullName,
	}, hash)
	if errors.Is(err, orgs.ErrDuplicateEmail) {
		httputil.WriteConflict(w, "email already in use")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.issueTokens(w, owner, http.StatusCreated)
}

// login handles POST /auth/login.
func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.orgs.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		// Same response as a wrong password; do not leak which
		// emails exist.
		httputil.WriteUnauthorized(w, "invalid credentials")
		return
	}
	if !auth.VerifyPassword(req.Password, user.PasswordHash) {
		httputil.WriteUnauthorized(w, "invalid credentials")
		return
	}

	h.issueTokens(w, user, http.StatusOK)
}

// refresh handles POST /auth/refresh: a refresh token for a new pair.
func (h *authHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	userID, err := h.issuer.Parse(req.RefreshToken, auth.TokenTypeRefresh)
	if err != nil {
		httputil.WriteUnauthorized(w, "invalid or expired refresh token")
		return
	}
	user, err := h.orgs.GetUserByID(r.Context(), userID)
	if err != nil {
		httputil.WriteUnauthorized(w, "invalid or expired refresh token")
		return
	}

	h.issueTokens(w, user, http.StatusOK)
}

// requestPasswordReset handles POST /auth/password-reset. The response
// is the same whether or not the email exists.
func (h *authHandlers) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" {
		httputil.WriteValidationError(w, "email is required")
		return
	}

	if user, err := h.orgs.GetUserByEmail(r.Context(), req.Email); err == nil {
		token, err := h.orgs.CreatePasswordReset(r.Context(), user.ID)
		if err != nil {
			h.logger.WithError(err).Error("Failed to create password reset")
		} else {
			// Delivery (email) is out of band; the token is only
			// surfaced through it.
			h.logger.WithField("user_id", user.ID.String()).
				WithField("token_prefix", token[:8]).
				Info("Password reset requested")
		}
	}

	httputil.WriteSuccessMessage(w, "if the account exists, a reset link has been sent", nil)
}

// confirmPasswordReset handles POST /auth/password-reset/confirm.
func (h *authHandlers) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	userID, err := h.orgs.ConsumePasswordReset(r.Context(), req.Token)
	if err != nil {
		httputil.WriteUnauthorized(w, "invalid or expired reset token")
		return
	}
	if err := h.orgs.UpdatePassword(r.Context(), userID, hash); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccessMessage(w, "password updated", nil)
}
