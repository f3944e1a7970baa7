package billing

import (
	"errors"

	"github.com/google/uuid"
)

// Event types emitted by the billing provider.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
)

// ErrInvalidSignature is returned when a webhook payload fails
// signature verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Event is a verified billing event. Fields beyond ID and Type are
// populated only when the provider payload carried them.
type Event struct {
	// ID is the provider's globally unique event identifier and the
	// idempotency key for processing.
	ID   string `json:"id"`
	Type string `json:"type"`

	// OrgID and TargetPlan come from checkout session metadata.
	OrgID      uuid.UUID `json:"org_id,omitempty"`
	TargetPlan string    `json:"target_plan,omitempty"`

	// CustomerID and SubscriptionID identify the provider-side
	// customer and subscription.
	CustomerID     string `json:"customer_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`

	// PriceID is the priced item on subscription update events.
	PriceID string `json:"price_id,omitempty"`

	// InvoiceID is set on payment failure events.
	InvoiceID string `json:"invoice_id,omitempty"`
}

// CheckoutSession is a provider-hosted checkout flow for a plan change.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PortalSession is a provider-hosted subscription management page.
type PortalSession struct {
	URL string `json:"url"`
}
