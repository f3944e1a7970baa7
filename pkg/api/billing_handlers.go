package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/covebase/cove/pkg/billing"
	"github.com/covebase/cove/pkg/httputil"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/plans"
)

// maxWebhookBytes caps a webhook payload.
const maxWebhookBytes = 1 << 20

type billingHandlers struct {
	checkout  *billing.Checkout
	processor *billing.Processor
	events    billing.EventSource
	logger    *observability.Logger
}

func newBillingHandlers(deps Deps) *billingHandlers {
	return &billingHandlers{
		checkout:  deps.Checkout,
		processor: deps.Processor,
		events:    deps.Events,
		logger:    deps.Logger.WithComponent("billing_handlers"),
	}
}

// webhook handles POST /billing/webhook. Authentication is the payload
// signature; replays return 200 without reapplying.
func (h *billingHandlers) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		httputil.WriteValidationError(w, "failed to read payload")
		return
	}

	event, err := h.events.Verify(payload, r.Header.Get("X-Signature"))
	if errors.Is(err, billing.ErrInvalidSignature) {
		httputil.WriteUnauthorized(w, "invalid signature")
		return
	}
	if err != nil {
		httputil.WriteValidationError(w, "invalid payload")
		return
	}

	outcome, err := h.processor.Process(r.Context(), event)
	if err != nil {
		// The provider retries on non-2xx; a processing failure is
		// retryable.
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]string{"outcome": outcome})
}

// startCheckout handles POST /billing/checkout: begins a plan upgrade.
func (h *billingHandlers) startCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan string `json:"plan"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	target := plans.Tier(req.Plan)
	if target != plans.TierPro && target != plans.TierEnterprise {
		httputil.WriteValidationError(w, "plan must be pro or enterprise")
		return
	}

	session, err := h.checkout.Start(r.Context(), target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, session)
}

// portal handles POST /billing/portal: a billing management session for
// an org with an existing customer record.
func (h *billingHandlers) portal(w http.ResponseWriter, r *http.Request) {
	session, err := h.checkout.Portal(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, session)
}
