package billing

import (
	"context"
	"fmt"

	"github.com/covebase/cove/pkg/audit"
	"github.com/covebase/cove/pkg/config"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/tenant"
)

// Provider is the external billing API used to start checkout and
// portal flows. State transitions still arrive only through webhook
// events, never from these calls.
type Provider interface {
	CreateCustomer(ctx context.Context, orgID, name, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string, metadata map[string]string) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)
}

// Checkout initiates provider-hosted checkout and portal sessions.
type Checkout struct {
	provider Provider
	orgs     orgs.Service
	cfg      config.BillingConfig
	audit    *audit.Logger
	logger   *observability.Logger
}

// NewCheckout creates a checkout flow helper.
func NewCheckout(provider Provider, orgService orgs.Service, cfg config.BillingConfig, auditLogger *audit.Logger, logger *observability.Logger) *Checkout {
	return &Checkout{
		provider: provider,
		orgs:     orgService,
		cfg:      cfg,
		audit:    auditLogger,
		logger:   logger.WithComponent("billing"),
	}
}

// priceFor maps a paid tier to its configured price ID.
func (c *Checkout) priceFor(tier plans.Tier) (string, error) {
	switch tier {
	case plans.TierPro:
		if c.cfg.ProPriceID == "" {
			return "", fmt.Errorf("no price configured for pro plan")
		}
		return c.cfg.ProPriceID, nil
	case plans.TierEnterprise:
		if c.cfg.EnterprisePriceID == "" {
			return "", fmt.Errorf("no price configured for enterprise plan")
		}
		return c.cfg.EnterprisePriceID, nil
	default:
		return "", fmt.Errorf("plan %s is not purchasable", tier)
	}
}

// Start creates a checkout session for upgrading the current org to a
// paid plan. A provider customer is created on first checkout and its
// ID stored on the organization.
func (c *Checkout) Start(ctx context.Context, targetPlan plans.Tier) (*CheckoutSession, error) {
	tc, err := tenant.From(ctx)
	if err != nil {
		return nil, err
	}

	priceID, err := c.priceFor(targetPlan)
	if err != nil {
		return nil, err
	}

	org, err := c.orgs.GetOrganization(ctx, tc.OrgID)
	if err != nil {
		return nil, err
	}

	customerID, err := c.ensureCustomer(ctx, org, tc)
	if err != nil {
		return nil, err
	}

	session, err := c.provider.CreateCheckoutSession(ctx, customerID, priceID,
		c.cfg.CheckoutSuccessURL, c.cfg.CheckoutCancelURL,
		map[string]string{
			"org_id":      org.ID.String(),
			"target_plan": string(targetPlan),
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	if c.audit != nil {
		if auditErr := c.audit.Record(ctx, audit.ActionCheckoutStarted, map[string]interface{}{
			"target_plan": string(targetPlan),
			"session_id":  session.ID,
		}); auditErr != nil {
			c.logger.WithError(auditErr).Warn("failed to record checkout audit entry")
		}
	}

	c.logger.WithOrg(org.ID.String()).
		WithField("target_plan", string(targetPlan)).
		Info("checkout session started")
	return session, nil
}

// Portal creates a subscription management portal session for the
// current org. Requires an existing provider customer.
func (c *Checkout) Portal(ctx context.Context) (*PortalSession, error) {
	tc, err := tenant.From(ctx)
	if err != nil {
		return nil, err
	}

	org, err := c.orgs.GetOrganization(ctx, tc.OrgID)
	if err != nil {
		return nil, err
	}
	if org.BillingCustomerID == nil || *org.BillingCustomerID == "" {
		return nil, fmt.Errorf("organization has no billing customer")
	}

	session, err := c.provider.CreatePortalSession(ctx, *org.BillingCustomerID, c.cfg.PortalReturnURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create portal session: %w", err)
	}
	return session, nil
}

func (c *Checkout) ensureCustomer(ctx context.Context, org *orgs.Organization, tc *tenant.Context) (string, error) {
	if org.BillingCustomerID != nil && *org.BillingCustomerID != "" {
		return *org.BillingCustomerID, nil
	}

	user, err := c.orgs.GetUserByID(ctx, tc.UserID)
	if err != nil {
		return "", err
	}

	customerID, err := c.provider.CreateCustomer(ctx, org.ID.String(), org.Name, user.Email)
	if err != nil {
		return "", fmt.Errorf("failed to create billing customer: %w", err)
	}
	if err := c.orgs.SetPlan(ctx, org.ID, org.Plan, &customerID, org.BillingSubscriptionID); err != nil {
		return "", fmt.Errorf("failed to store billing customer: %w", err)
	}
	return customerID, nil
}
