package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covebase/cove/pkg/audit"
	"github.com/covebase/cove/pkg/limits"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/storage/postgres"
	"github.com/covebase/cove/pkg/tenant"
	"github.com/covebase/cove/pkg/usage"
)

type staticOrgs struct {
	orgs.Service
	org *orgs.Organization
}

func (s *staticOrgs) GetOrganization(_ context.Context, id uuid.UUID) (*orgs.Organization, error) {
	if s.org == nil || s.org.ID != id {
		return nil, orgs.ErrNotFound
	}
	return s.org, nil
}

func scopedRequest(method, path string, org *orgs.Organization) *http.Request {
	ctx := tenant.With(context.Background(), &tenant.Context{
		OrgID:  org.ID,
		UserID: uuid.New(),
		Role:   orgs.RoleMember,
	})
	return httptest.NewRequest(method, path, nil).WithContext(ctx)
}

func counterRows(orgID uuid.UUID, aiQueries, documents, seats int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "org_id", "period", "ai_queries", "documents_uploaded", "seats_used", "updated_at",
	}).AddRow(uuid.New(), orgID, usage.CurrentPeriod(), aiQueries, documents, seats, time.Now())
}

func TestUsageEndpointReportsWarnings(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	org := &orgs.Organization{ID: uuid.New(), Plan: plans.TierFree}
	logger := observability.NewLogger(observability.ErrorLevel, nil)
	db := postgres.NewDB(sqlDB)

	h := newUsageHandlers(Deps{
		Resolver: orgs.NewResolver(&staticOrgs{org: org}, 16, time.Minute, nil),
		Ledger:   usage.NewLedger(db, logger),
		Enforcer: limits.NewEnforcer(audit.NewLogger(db, logger), nil, logger),
	})

	// 45 of 50 monthly AI queries puts the org in warning territory.
	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config\\('app.current_org_id'").
		WithArgs(org.ID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM usage_counters").
		WillReturnRows(counterRows(org.ID, 45, 2, 1))
	mock.ExpectCommit()

	rec := httptest.NewRecorder()
	h.get(rec, scopedRequest(http.MethodGet, "/usage", org))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Plan     string           `json:"plan"`
		Usage    usage.Counter    `json:"usage"`
		Warnings []limits.Warning `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "free", resp.Plan)
	assert.Equal(t, 45, resp.Usage.AIQueries)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, usage.KindAIQueries, resp.Warnings[0].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageEndpointRequiresTenant(t *testing.T) {
	h := newUsageHandlers(Deps{})

	rec := httptest.NewRecorder()
	h.get(rec, httptest.NewRequest(http.MethodGet, "/usage", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
