// Package plans defines the static plan catalog and the entitlements
// attached to each plan tier. The catalog is compile-time data: plan
// changes ship as code, never as rows in the database.
package plans

import "fmt"

// Tier identifies a subscription plan.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Limits describes the entitlements of a plan. A nil counter limit
// means unbounded.
type Limits struct {
	MaxUsers      *int `json:"max_users"`
	MaxAIQueries  *int `json:"max_ai_queries_per_month"`
	MaxDocuments  *int `json:"max_documents"`

	ConversationHistory bool   `json:"conversation_history"`
	AuditLogAccess      bool   `json:"audit_log_access"`
	PriorityQueue       bool   `json:"priority_queue"`
	CompletionModel     string `json:"completion_model"`
}

func limit(n int) *int { return &n }

// catalog holds the full plan table. Order matters only for Tiers().
var catalog = map[Tier]Limits{
	TierFree: {
		MaxUsers:            limit(1),
		MaxAIQueries:        limit(50),
		MaxDocuments:        limit(5),
		ConversationHistory: false,
		AuditLogAccess:      false,
		CompletionModel:     "llama-3.1-8b-instant",
	},
	TierPro: {
		MaxUsers:            limit(5),
		MaxAIQueries:        limit(500),
		MaxDocuments:        nil,
		ConversationHistory: true,
		AuditLogAccess:      true,
		CompletionModel:     "llama-3.1-8b-instant",
	},
	TierEnterprise: {
		MaxUsers:            nil,
		MaxAIQueries:        nil,
		MaxDocuments:        nil,
		ConversationHistory: true,
		AuditLogAccess:      true,
		PriorityQueue:       true,
		CompletionModel:     "llama-3.3-70b-versatile",
	},
}

// Valid reports whether t names a known plan tier.
func Valid(t Tier) bool {
	_, ok := catalog[t]
	return ok
}

// Get returns the limits for a plan tier. An unknown tier is a
// configuration error: plans only enter the system through the catalog
// and the billing price table, both of which are validated at startup.
func Get(t Tier) (Limits, error) {
	l, ok := catalog[t]
	if !ok {
		return Limits{}, fmt.Errorf("unknown plan tier: %q", t)
	}
	return l, nil
}

// MustGet returns the limits for a plan tier and panics on an unknown
// tier. Use only after the tier has been validated (e.g. values read
// back from the organizations table, which constrains the column).
func MustGet(t Tier) Limits {
	l, err := Get(t)
	if err != nil {
		panic(err)
	}
	return l
}

// Tiers returns all known plan tiers.
func Tiers() []Tier {
	return []Tier{TierFree, TierPro, TierEnterprise}
}

// PriceTable maps payment provider price IDs to plan tiers. Built from
// configuration at startup and consulted when subscription update
// events arrive.
type PriceTable map[string]Tier

// NewPriceTable validates a price→plan mapping loaded from
// configuration. Every mapped plan must exist in the catalog.
func NewPriceTable(prices map[string]string) (PriceTable, error) {
	table := make(PriceTable, len(prices))
	for priceID, plan := range prices {
		t := Tier(plan)
		if !Valid(t) {
			return nil, fmt.Errorf("price %s maps to unknown plan tier %q", priceID, plan)
		}
		table[priceID] = t
	}
	return table, nil
}

// Lookup resolves a price ID to a plan tier.
func (pt PriceTable) Lookup(priceID string) (Tier, bool) {
	t, ok := pt[priceID]
	return t, ok
}
