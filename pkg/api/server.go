package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/covebase/cove/pkg/assistant"
	"github.com/covebase/cove/pkg/audit"
	"github.com/covebase/cove/pkg/auth"
	"github.com/covebase/cove/pkg/billing"
	"github.com/covebase/cove/pkg/config"
	"github.com/covebase/cove/pkg/documents"
	"github.com/covebase/cove/pkg/httputil"
	"github.com/covebase/cove/pkg/limits"
	"github.com/covebase/cove/pkg/middleware"
	"github.com/covebase/cove/pkg/objstore"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/usage"
)

// Deps carries everything the API server needs. All fields are
// required unless noted.
type Deps struct {
	Config   *config.Config
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	Orgs     orgs.Service
	Resolver *orgs.Resolver
	Issuer   *auth.TokenIssuer
	Ledger   *usage.Ledger
	Enforcer *limits.Enforcer
	Audit    *audit.Logger

	Documents *documents.Store
	Pipeline  *documents.Pipeline
	Objects   objstore.Store

	Assistant     *assistant.Service
	Conversations *assistant.Store

	Checkout  *billing.Checkout
	Processor *billing.Processor
	Events    billing.EventSource

	Health *observability.HealthChecker

	// RateLimit is optional; nil disables API rate limiting (tests).
	RateLimit *middleware.RateLimitMiddleware
}

// Server is the HTTP API.
type Server struct {
	router *mux.Router
	deps   Deps
	logger *observability.Logger
}

// NewServer wires the routes and middleware.
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		logger: deps.Logger.WithComponent("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(httputil.RecoveryMiddleware)
	s.router.Use(httputil.LoggingMiddleware)
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}
	if s.deps.RateLimit != nil {
		s.router.Use(s.deps.RateLimit.Handler)
	}

	// Unauthenticated surface.
	if s.deps.Health != nil {
		s.router.HandleFunc("/healthz", s.deps.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", s.deps.Health.Readiness).Methods("GET")
	}
	if s.deps.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.deps.Registry)).Methods("GET")
	}

	authHandlers := newAuthHandlers(s.deps)
	s.router.HandleFunc("/auth/register", authHandlers.register).Methods("POST")
	s.router.HandleFunc("/auth/login", authHandlers.login).Methods("POST")
	s.router.HandleFunc("/auth/refresh", authHandlers.refresh).Methods("POST")
	s.router.HandleFunc("/auth/password-reset", authHandlers.requestPasswordReset).Methods("POST")
	s.router.HandleFunc("/auth/password-reset/confirm", authHandlers.confirmPasswordReset).Methods("POST")

	teamHandlers := newTeamHandlers(s.deps)
	s.router.HandleFunc("/team/invites/accept", teamHandlers.acceptInvite).Methods("POST")

	// Webhooks authenticate by signature, not bearer token.
	billingHandlers := newBillingHandlers(s.deps)
	s.router.HandleFunc("/billing/webhook", billingHandlers.webhook).Methods("POST")

	// Authenticated surface.
	authMW := middleware.NewAuthMiddleware(s.deps.Issuer, s.deps.Orgs, s.deps.Resolver)
	api := s.router.NewRoute().Subrouter()
	api.Use(authMW.Handler)

	usageHandlers := newUsageHandlers(s.deps)
	api.HandleFunc("/usage", usageHandlers.get).Methods("GET")

	docHandlers := newDocumentHandlers(s.deps)
	api.HandleFunc("/documents", docHandlers.upload).Methods("POST")
	api.HandleFunc("/documents", docHandlers.list).Methods("GET")
	api.HandleFunc("/documents/{id}", docHandlers.get).Methods("GET")
	api.HandleFunc("/documents/{id}", docHandlers.delete).Methods("DELETE")

	chatHandlers := newAssistantHandlers(s.deps)
	api.HandleFunc("/assistant/chat", chatHandlers.chat).Methods("POST")
	api.HandleFunc("/assistant/conversations", chatHandlers.listConversations).Methods("GET")
	api.HandleFunc("/assistant/conversations/{id}", chatHandlers.getConversation).Methods("GET")
	api.HandleFunc("/assistant/conversations/{id}", chatHandlers.deleteConversation).Methods("DELETE")
	api.HandleFunc("/assistant/conversations/{id}/messages", chatHandlers.listMessages).Methods("GET")

	adminOnly := middleware.RequireRole(orgs.RoleOwner, orgs.RoleAdmin)
	api.Handle("/billing/checkout", adminOnly(http.HandlerFunc(billingHandlers.startCheckout))).Methods("POST")
	api.Handle("/billing/portal", adminOnly(http.HandlerFunc(billingHandlers.portal))).Methods("POST")

	api.HandleFunc("/team/members", teamHandlers.listMembers).Methods("GET")
	api.Handle("/team/members/{id}/role", adminOnly(http.HandlerFunc(teamHandlers.updateRole))).Methods("PATCH")
	api.Handle("/team/members/{id}", adminOnly(http.HandlerFunc(teamHandlers.removeMember))).Methods("DELETE")
	api.Handle("/team/invites", adminOnly(http.HandlerFunc(teamHandlers.createInvite))).Methods("POST")
	api.Handle("/team/invites", adminOnly(http.HandlerFunc(teamHandlers.listInvites))).Methods("GET")
	api.Handle("/team/invites/{id}", adminOnly(http.HandlerFunc(teamHandlers.revokeInvite))).Methods("DELETE")

	ownerOnly := middleware.RequireRole(orgs.RoleOwner)
	orgHandlers := newOrgHandlers(s.deps)
	api.HandleFunc("/settings/org", orgHandlers.get).Methods("GET")
	api.Handle("/settings/org", adminOnly(http.HandlerFunc(orgHandlers.update))).Methods("PATCH")
	api.Handle("/settings/org", ownerOnly(http.HandlerFunc(orgHandlers.delete))).Methods("DELETE")
	api.HandleFunc("/settings/password", orgHandlers.changePassword).Methods("POST")

	auditHandlers := newAuditHandlers(s.deps)
	api.Handle("/audit-log", adminOnly(http.HandlerFunc(auditHandlers.list))).Methods("GET")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
