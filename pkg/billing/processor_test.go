package billing

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/storage/postgres"
)

// fakeOrgService stubs the org operations the processor touches.
// Anything else panics via the embedded nil interface.
type fakeOrgService struct {
	orgs.Service

	bySubscription map[string]*orgs.Organization

	setPlanOrg   uuid.UUID
	setPlanTier  plans.Tier
	setPlanSubID *string
	setPlanCalls int
	clearedOrg   uuid.UUID
	clearedCalls int
}

func (f *fakeOrgService) SetPlan(ctx context.Context, id uuid.UUID, plan plans.Tier, customerID, subscriptionID *string) error {
	f.setPlanOrg = id
	f.setPlanTier = plan
	f.setPlanSubID = subscriptionID
	f.setPlanCalls++
	return nil
}

func (f *fakeOrgService) ClearSubscription(ctx context.Context, id uuid.UUID) error {
	f.clearedOrg = id
	f.clearedCalls++
	return nil
}

func (f *fakeOrgService) GetOrganizationBySubscription(ctx context.Context, subscriptionID string) (*orgs.Organization, error) {
	org, ok := f.bySubscription[subscriptionID]
	if !ok {
		return nil, orgs.ErrNotFound
	}
	return org, nil
}

type fakeInvalidator struct {
	invalidated []uuid.UUID
}

func (f *fakeInvalidator) Invalidate(orgID uuid.UUID) {
	f.invalidated = append(f.invalidated, orgID)
}

func newTestProcessor(t *testing.T, orgService orgs.Service, cache CacheInvalidator) (*Processor, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	prices, err := plans.NewPriceTable(map[string]string{
		"price_pro": "pro",
		"price_ent": "enterprise",
	})
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	p := NewProcessor(postgres.NewDB(sqlDB), orgService, prices, nil, cache, nil, logger)
	return p, mock, func() { sqlDB.Close() }
}

func expectEventSeen(mock sqlmock.Sqlmock, seen bool) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(seen))
	mock.ExpectCommit()
}

func expectEventRecorded(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestProcessReplayShortCircuits(t *testing.T) {
	svc := &fakeOrgService{}
	p, mock, cleanup := newTestProcessor(t, svc, nil)
	defer cleanup()

	expectEventSeen(mock, true)

	outcome, err := p.Process(context.Background(), &Event{
		ID:   "evt_1",
		Type: EventCheckoutCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplayed, outcome)
	assert.Zero(t, svc.setPlanCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessCheckoutCompleted(t *testing.T) {
	svc := &fakeOrgService{}
	cache := &fakeInvalidator{}
	p, mock, cleanup := newTestProcessor(t, svc, cache)
	defer cleanup()

	expectEventSeen(mock, false)
	expectEventRecorded(mock)

	orgID := uuid.New()
	outcome, err := p.Process(context.Background(), &Event{
		ID:             "evt_2",
		Type:           EventCheckoutCompleted,
		OrgID:          orgID,
		TargetPlan:     "pro",
		SubscriptionID: "sub_123",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 1, svc.setPlanCalls)
	assert.Equal(t, orgID, svc.setPlanOrg)
	assert.Equal(t, plans.TierPro, svc.setPlanTier)
	require.NotNil(t, svc.setPlanSubID)
	assert.Equal(t, "sub_123", *svc.setPlanSubID)
	assert.Equal(t, []uuid.UUID{orgID}, cache.invalidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessCheckoutMissingMetadata(t *testing.T) {
	svc := &fakeOrgService{}
	p, mock, cleanup := newTestProcessor(t, svc, nil)
	defer cleanup()

	expectEventSeen(mock, false)
	expectEventRecorded(mock)

	// No org ID or target plan: accepted but produces no transition.
	outcome, err := p.Process(context.Background(), &Event{
		ID:             "evt_3",
		Type:           EventCheckoutCompleted,
		SubscriptionID: "sub_123",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Zero(t, svc.setPlanCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessSubscriptionUpdated(t *testing.T) {
	orgID := uuid.New()
	svc := &fakeOrgService{
		bySubscription: map[string]*orgs.Organization{
			"sub_9": {ID: orgID, Plan: plans.TierPro},
		},
	}
	p, mock, cleanup := newTestProcessor(t, svc, nil)
	defer cleanup()

	expectEventSeen(mock, false)
	expectEventRecorded(mock)

	outcome, err := p.Process(context.Background(), &Event{
		ID:             "evt_4",
		Type:           EventSubscriptionUpdated,
		SubscriptionID: "sub_9",
		PriceID:        "price_ent",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, plans.TierEnterprise, svc.setPlanTier)
	assert.Equal(t, orgID, svc.setPlanOrg)
}

func TestProcessSubscriptionUpdatedUnknownPrice(t *testing.T) {
	svc := &fakeOrgService{
		bySubscription: map[string]*orgs.Organization{
			"sub_9": {ID: uuid.New(), Plan: plans.TierPro},
		},
	}
	p, mock, cleanup := newTestProcessor(t, svc, nil)
	defer cleanup()

	expectEventSeen(mock, false)
	expectEventRecorded(mock)

	outcome, err := p.Process(context.Background(), &Event{
		ID:             "evt_5",
		Type:           EventSubscriptionUpdated,
		SubscriptionID: "sub_9",
		PriceID:        "price_unknown",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Zero(t, svc.setPlanCalls)
}

func TestProcessSubscriptionDeletedWhileAlreadyFree(t *testing.T) {
	orgID := uuid.New()
	svc := &fakeOrgService{
		bySubscription: map[string]*orgs.Organization{
			"sub_9": {ID: orgID, Plan: plans.TierFree},
		},
	}
	cache := &fakeInvalidator{}
	p, mock, cleanup := newTestProcessor(t, svc, cache)
	defer cleanup()

	expectEventSeen(mock, false)
	expectEventRecorded(mock)

	// Downgrade applies even when the org is already on free.
	outcome, err := p.Process(context.Background(), &Event{
		ID:             "evt_6",
		Type:           EventSubscriptionDeleted,
		SubscriptionID: "sub_9",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 1, svc.clearedCalls)
	assert.Equal(t, orgID, svc.clearedOrg)
	assert.Equal(t, []uuid.UUID{orgID}, cache.invalidated)
}

func TestProcessSubscriptionDeletedUnknownOrg(t *testing.T) {
	svc := &fakeOrgService{}
	p, mock, cleanup := newTestProcessor(t, svc, nil)
	defer cleanup()

	expectEventSeen(mock, false)
	expectEventRecorded(mock)

	outcome, err := p.Process(context.Background(), &Event{
		ID:             "evt_7",
		Type:           EventSubscriptionDeleted,
		SubscriptionID: "sub_gone",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Zero(t, svc.clearedCalls)
}

func TestProcessPaymentFailedMutatesNothing(t *testing.T) {
	svc := &fakeOrgService{
		bySubscription: map[string]*orgs.Organization{
			"sub_9": {ID: uuid.New(), Plan: plans.TierPro},
		},
	}
	p, mock, cleanup := newTestProcessor(t, svc, nil)
	defer cleanup()

	expectEventSeen(mock, false)
	expectEventRecorded(mock)

	outcome, err := p.Process(context.Background(), &Event{
		ID:             "evt_8",
		Type:           EventPaymentFailed,
		SubscriptionID: "sub_9",
		InvoiceID:      "inv_1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Zero(t, svc.setPlanCalls)
	assert.Zero(t, svc.clearedCalls)
}

func TestProcessUnknownEventType(t *testing.T) {
	svc := &fakeOrgService{}
	p, mock, cleanup := newTestProcessor(t, svc, nil)
	defer cleanup()

	expectEventSeen(mock, false)
	expectEventRecorded(mock)

	outcome, err := p.Process(context.Background(), &Event{
		ID:   "evt_9",
		Type: "customer.created",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
}
