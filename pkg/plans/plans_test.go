package plans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetKnownTiers(t *testing.T) {
	free, err := Get(TierFree)
	require.NoError(t, err)
	require.NotNil(t, free.MaxUsers)
	assert.Equal(t, 1, *free.MaxUsers)
	require.NotNil(t, free.MaxAIQueries)
	assert.Equal(t, 50, *free.MaxAIQueries)
	require.NotNil(t, free.MaxDocuments)
	assert.Equal(t, 5, *free.MaxDocuments)
	assert.False(t, free.ConversationHistory)
	assert.False(t, free.AuditLogAccess)
	assert.Equal(t, "llama-3.1-8b-instant", free.CompletionModel)

	pro, err := Get(TierPro)
	require.NoError(t, err)
	require.NotNil(t, pro.MaxUsers)
	assert.Equal(t, 5, *pro.MaxUsers)
	require.NotNil(t, pro.MaxAIQueries)
	assert.Equal(t, 500, *pro.MaxAIQueries)
	assert.Nil(t, pro.MaxDocuments, "pro documents are unbounded")
	assert.True(t, pro.ConversationHistory)
	assert.True(t, pro.AuditLogAccess)

	ent, err := Get(TierEnterprise)
	require.NoError(t, err)
	assert.Nil(t, ent.MaxUsers)
	assert.Nil(t, ent.MaxAIQueries)
	assert.Nil(t, ent.MaxDocuments)
	assert.True(t, ent.PriorityQueue)
	assert.Equal(t, "llama-3.3-70b-versatile", ent.CompletionModel)
}

func TestGetUnknownTier(t *testing.T) {
	_, err := Get(Tier("platinum"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown plan tier")
}

func TestMustGetPanicsOnUnknownTier(t *testing.T) {
	assert.Panics(t, func() {
		MustGet(Tier("bogus"))
	})
}

func TestNewPriceTable(t *testing.T) {
	table, err := NewPriceTable(map[string]string{
		"price_pro_monthly": "pro",
		"price_ent_monthly": "enterprise",
	})
	require.NoError(t, err)

	tier, ok := table.Lookup("price_pro_monthly")
	assert.True(t, ok)
	assert.Equal(t, TierPro, tier)

	_, ok = table.Lookup("price_unknown")
	assert.False(t, ok)
}

func TestNewPriceTableRejectsUnknownPlan(t *testing.T) {
	_, err := NewPriceTable(map[string]string{"price_x": "gold"})
	assert.Error(t, err)
}
