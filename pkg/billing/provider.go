package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/covebase/cove/pkg/config"
	"github.com/covebase/cove/pkg/observability"
)

const providerRequestTimeout = 30 * time.Second

// HTTPProvider talks to the external billing API over its JSON REST
// interface. It implements Provider.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *observability.Logger
}

// NewHTTPProvider creates a billing API client from configuration.
func NewHTTPProvider(cfg config.BillingConfig, logger *observability.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: cfg.APIBaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: providerRequestTimeout,
		},
		logger: logger.WithComponent("billing-provider"),
	}
}

// CreateCustomer registers a billing customer for an organization and
// returns the provider-assigned customer ID.
func (p *HTTPProvider) CreateCustomer(ctx context.Context, orgID, name, email string) (string, error) {
	req := map[string]interface{}{
		"name":  name,
		"email": email,
		"metadata": map[string]string{
			"org_id": orgID,
		},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := p.post(ctx, "/v1/customers", req, &resp); err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	return resp.ID, nil
}

// CreateCheckoutSession starts a provider-hosted checkout flow for a
// subscription price.
func (p *HTTPProvider) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string, metadata map[string]string) (*CheckoutSession, error) {
	req := map[string]interface{}{
		"customer":    customerID,
		"price":       priceID,
		"success_url": successURL,
		"cancel_url":  cancelURL,
		"metadata":    metadata,
	}
	var session CheckoutSession
	if err := p.post(ctx, "/v1/checkout/sessions", req, &session); err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &session, nil
}

// CreatePortalSession starts a provider-hosted subscription management
// session for an existing customer.
func (p *HTTPProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	req := map[string]interface{}{
		"customer":   customerID,
		"return_url": returnURL,
	}
	var session PortalSession
	if err := p.post(ctx, "/v1/portal/sessions", req, &session); err != nil {
		return nil, fmt.Errorf("failed to create portal session: %w", err)
	}
	return &session, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, body, target interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("billing API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.logger.WithField("status", resp.StatusCode).
			WithField("path", path).
			Warn("billing API returned an error")
		return fmt.Errorf("billing API error: status=%d, body=%s", resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode billing API response: %w", err)
	}
	return nil
}
