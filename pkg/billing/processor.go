package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/audit"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/storage/postgres"
)

// Outcomes reported per processed event.
const (
	OutcomeApplied  = "applied"
	OutcomeReplayed = "replayed"
	OutcomeSkipped  = "skipped"
)

// CacheInvalidator drops cached organization state after a plan change.
type CacheInvalidator interface {
	Invalidate(orgID uuid.UUID)
}

// Processor applies billing events to organization plan state.
//
// Processing is idempotent: each event ID is recorded in billing_events
// and checked before any mutation, so a replayed event is acknowledged
// without being applied a second time. The existence check runs strictly
// before the plan mutation; a crash between recording and applying drops
// the event rather than double-applying it.
type Processor struct {
	db      *postgres.DB
	orgs    orgs.Service
	prices  plans.PriceTable
	audit   *audit.Logger
	cache   CacheInvalidator
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewProcessor creates a billing event processor.
func NewProcessor(db *postgres.DB, orgService orgs.Service, prices plans.PriceTable, auditLogger *audit.Logger, cache CacheInvalidator, metrics *observability.Metrics, logger *observability.Logger) *Processor {
	return &Processor{
		db:      db,
		orgs:    orgService,
		prices:  prices,
		audit:   auditLogger,
		cache:   cache,
		metrics: metrics,
		logger:  logger.WithComponent("billing"),
	}
}

// Process applies one verified billing event and returns the outcome.
// A replayed or unusable event is a successful no-op, not an error.
func (p *Processor) Process(ctx context.Context, event *Event) (string, error) {
	seen, err := p.alreadyProcessed(ctx, event.ID)
	if err != nil {
		return "", err
	}
	if seen {
		p.logger.WithField("event_id", event.ID).Debug("billing event already processed")
		p.countOutcome(event.Type, OutcomeReplayed)
		return OutcomeReplayed, nil
	}

	if err := p.recordEvent(ctx, event); err != nil {
		return "", err
	}

	var outcome string
	switch event.Type {
	case EventCheckoutCompleted:
		outcome, err = p.handleCheckoutCompleted(ctx, event)
	case EventSubscriptionUpdated:
		outcome, err = p.handleSubscriptionUpdated(ctx, event)
	case EventSubscriptionDeleted:
		outcome, err = p.handleSubscriptionDeleted(ctx, event)
	case EventPaymentFailed:
		outcome, err = p.handlePaymentFailed(ctx, event)
	default:
		p.logger.WithField("event_type", event.Type).Debug("ignoring unhandled billing event type")
		outcome = OutcomeSkipped
	}
	if err != nil {
		return "", err
	}

	p.countOutcome(event.Type, outcome)
	return outcome, nil
}

// alreadyProcessed checks the idempotency record for an event ID.
func (p *Processor) alreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := p.db.System(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM billing_events WHERE id = $1)`, eventID,
		).Scan(&seen)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check billing event %s: %w", eventID, err)
	}
	return seen, nil
}

func (p *Processor) recordEvent(ctx context.Context, event *Event) error {
	err := p.db.System(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO billing_events (id, event_type) VALUES ($1, $2)`,
			event.ID, event.Type)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to record billing event %s: %w", event.ID, err)
	}
	return nil
}

// handleCheckoutCompleted moves an org onto the plan it paid for. The
// event must carry the org ID, target plan, and subscription ID in its
// checkout metadata; if any is missing the event is kept as processed
// but changes nothing.
func (p *Processor) handleCheckoutCompleted(ctx context.Context, event *Event) (string, error) {
	if event.OrgID == uuid.Nil || event.TargetPlan == "" || event.SubscriptionID == "" {
		p.logger.WithField("event_id", event.ID).Warn("checkout event missing metadata, skipping")
		return OutcomeSkipped, nil
	}

	tier := plans.Tier(event.TargetPlan)
	if !plans.Valid(tier) {
		p.logger.WithField("event_id", event.ID).
			WithField("plan", event.TargetPlan).
			Warn("checkout event names unknown plan, skipping")
		return OutcomeSkipped, nil
	}

	var customerID *string
	if event.CustomerID != "" {
		customerID = &event.CustomerID
	}
	if err := p.orgs.SetPlan(ctx, event.OrgID, tier, customerID, &event.SubscriptionID); err != nil {
		if errors.Is(err, orgs.ErrNotFound) {
			p.logger.WithField("event_id", event.ID).Warn("checkout event for unknown org, skipping")
			return OutcomeSkipped, nil
		}
		return "", fmt.Errorf("failed to apply checkout for org %s: %w", event.OrgID, err)
	}
	p.invalidate(event.OrgID)
	p.recordAudit(ctx, event.OrgID, audit.ActionPlanChanged, map[string]interface{}{
		"event_id": event.ID,
		"plan":     string(tier),
		"trigger":  event.Type,
	})

	p.logger.WithOrg(event.OrgID.String()).
		WithField("plan", string(tier)).
		Info("checkout completed, plan updated")
	return OutcomeApplied, nil
}

// handleSubscriptionUpdated re-derives the plan from the subscription's
// current priced item. The org is resolved by subscription ID, never by
// event metadata.
func (p *Processor) handleSubscriptionUpdated(ctx context.Context, event *Event) (string, error) {
	if event.SubscriptionID == "" {
		return OutcomeSkipped, nil
	}
	org, err := p.orgs.GetOrganizationBySubscription(ctx, event.SubscriptionID)
	if err != nil {
		if errors.Is(err, orgs.ErrNotFound) {
			p.logger.WithField("subscription_id", event.SubscriptionID).
				Debug("subscription update for unknown org, skipping")
			return OutcomeSkipped, nil
		}
		return "", fmt.Errorf("failed to resolve org for subscription %s: %w", event.SubscriptionID, err)
	}

	tier, ok := p.prices.Lookup(event.PriceID)
	if !ok {
		p.logger.WithField("price_id", event.PriceID).Warn("unrecognized price on subscription update, skipping")
		return OutcomeSkipped, nil
	}
	if tier == org.Plan {
		return OutcomeSkipped, nil
	}

	if err := p.orgs.SetPlan(ctx, org.ID, tier, nil, &event.SubscriptionID); err != nil {
		return "", fmt.Errorf("failed to update plan for org %s: %w", org.ID, err)
	}
	p.invalidate(org.ID)
	p.recordAudit(ctx, org.ID, audit.ActionPlanChanged, map[string]interface{}{
		"event_id": event.ID,
		"plan":     string(tier),
		"previous": string(org.Plan),
		"trigger":  event.Type,
	})

	p.logger.WithOrg(org.ID.String()).
		WithField("plan", string(tier)).
		Info("subscription updated, plan changed")
	return OutcomeApplied, nil
}

// handleSubscriptionDeleted forces the org back to the free plan and
// detaches the subscription, regardless of its current plan.
func (p *Processor) handleSubscriptionDeleted(ctx context.Context, event *Event) (string, error) {
	if event.SubscriptionID == "" {
		return OutcomeSkipped, nil
	}
	org, err := p.orgs.GetOrganizationBySubscription(ctx, event.SubscriptionID)
	if err != nil {
		if errors.Is(err, orgs.ErrNotFound) {
			p.logger.WithField("subscription_id", event.SubscriptionID).
				Debug("subscription delete for unknown org, skipping")
			return OutcomeSkipped, nil
		}
		return "", fmt.Errorf("failed to resolve org for subscription %s: %w", event.SubscriptionID, err)
	}

	if err := p.orgs.ClearSubscription(ctx, org.ID); err != nil {
		return "", fmt.Errorf("failed to clear subscription for org %s: %w", org.ID, err)
	}
	p.invalidate(org.ID)
	p.recordAudit(ctx, org.ID, audit.ActionSubscriptionCanceled, map[string]interface{}{
		"event_id": event.ID,
		"previous": string(org.Plan),
	})

	p.logger.WithOrg(org.ID.String()).Info("subscription deleted, org downgraded to free")
	return OutcomeApplied, nil
}

// handlePaymentFailed records the failure for the org's audit trail.
// No plan state changes.
func (p *Processor) handlePaymentFailed(ctx context.Context, event *Event) (string, error) {
	if event.SubscriptionID == "" {
		return OutcomeSkipped, nil
	}
	org, err := p.orgs.GetOrganizationBySubscription(ctx, event.SubscriptionID)
	if err != nil {
		if errors.Is(err, orgs.ErrNotFound) {
			return OutcomeSkipped, nil
		}
		return "", fmt.Errorf("failed to resolve org for subscription %s: %w", event.SubscriptionID, err)
	}

	p.recordAudit(ctx, org.ID, audit.ActionPaymentFailed, map[string]interface{}{
		"event_id":   event.ID,
		"invoice_id": event.InvoiceID,
	})
	p.logger.WithOrg(org.ID.String()).Warn("payment failed")
	return OutcomeApplied, nil
}

func (p *Processor) invalidate(orgID uuid.UUID) {
	if p.cache != nil {
		p.cache.Invalidate(orgID)
	}
}

// recordAudit writes an audit entry for an org resolved from billing
// state. Audit failures are logged and swallowed so a full event is
// never retried just because its trail entry failed.
func (p *Processor) recordAudit(ctx context.Context, orgID uuid.UUID, action string, details map[string]interface{}) {
	if p.audit == nil {
		return
	}
	if err := p.audit.RecordForOrg(ctx, orgID, nil, action, details); err != nil {
		p.logger.WithError(err).WithOrg(orgID.String()).Warn("failed to record billing audit entry")
	}
}

func (p *Processor) countOutcome(eventType, outcome string) {
	if p.metrics != nil {
		p.metrics.BillingEventsTotal.WithLabelValues(eventType, outcome).Inc()
	}
}
