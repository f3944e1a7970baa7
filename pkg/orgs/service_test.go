package orgs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/storage/postgres"
)

func newTestService(t *testing.T) (*PostgresService, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	svc := NewPostgresService(postgres.NewDB(sqlDB), logger)
	return svc, mock, func() { sqlDB.Close() }
}

func orgRows(org *Organization) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "slug", "plan", "logo_url",
		"billing_customer_id", "billing_subscription_id", "created_at", "updated_at",
	}).AddRow(org.ID, org.Name, org.Slug, string(org.Plan), org.LogoURL,
		org.BillingCustomerID, org.BillingSubscriptionID, org.CreatedAt, org.UpdatedAt)
}

func TestCreateOrganization(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM users WHERE email").
		WithArgs("owner@acme.test").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM organizations WHERE slug").
		WithArgs("acme-corp").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO organizations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO usage_counters").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	org, owner, err := svc.CreateOrganization(context.Background(), &CreateOrgRequest{
		Name:       "Acme Corp",
		OwnerEmail: "owner@acme.test",
		OwnerName:  "Ada",
	}, "hashed")
	require.NoError(t, err)

	assert.Equal(t, "acme-corp", org.Slug)
	assert.Equal(t, plans.TierFree, org.Plan)
	assert.Equal(t, RoleOwner, owner.Role)
	assert.Equal(t, org.ID, owner.OrgID)
	assert.True(t, owner.IsVerified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrganizationSlugCollision(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM users WHERE email").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM organizations WHERE slug").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM organizations WHERE slug").
		WithArgs("acme-2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO organizations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO usage_counters").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	org, _, err := svc.CreateOrganization(context.Background(), &CreateOrgRequest{
		Name:       "Acme",
		OwnerEmail: "a@acme.test",
	}, "hashed")
	require.NoError(t, err)
	assert.Equal(t, "acme-2", org.Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrganizationDuplicateEmail(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM users WHERE email").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, _, err := svc.CreateOrganization(context.Background(), &CreateOrgRequest{
		Name:       "Acme",
		OwnerEmail: "taken@acme.test",
	}, "hashed")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrganizationNotFound(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := svc.GetOrganization(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrganizationBySubscription(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()

	subID := "sub_123"
	want := &Organization{
		ID:                    uuid.New(),
		Name:                  "Acme",
		Slug:                  "acme",
		Plan:                  plans.TierPro,
		BillingSubscriptionID: &subID,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM organizations WHERE billing_subscription_id").
		WithArgs(subID).
		WillReturnRows(orgRows(want))
	mock.ExpectCommit()

	org, err := svc.GetOrganizationBySubscription(context.Background(), subID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, org.ID)
	assert.Equal(t, plans.TierPro, org.Plan)
}

func TestSetPlanRejectsUnknownTier(t *testing.T) {
	svc, _, cleanup := newTestService(t)
	defer cleanup()

	err := svc.SetPlan(context.Background(), uuid.New(), plans.Tier("gold"), nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown plan tier")
}

func TestClearSubscription(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()

	orgID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE organizations").
		WithArgs("free", orgID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.ClearSubscription(context.Background(), orgID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOrganization(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()

	orgID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM organizations").
		WithArgs(orgID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.DeleteOrganization(context.Background(), orgID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOrganizationMissing(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM organizations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := svc.DeleteOrganization(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Acme Corp", "acme-corp"},
		{"Acme  Corp!", "acme--corp"},
		{"ACME", "acme"},
		{"--weird--", "weird"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, generateSlug(tt.name))
	}
}
