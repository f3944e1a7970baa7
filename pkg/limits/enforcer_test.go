package limits

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covebase/cove/pkg/audit"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/storage/postgres"
	"github.com/covebase/cove/pkg/usage"
)

func newTestEnforcer(t *testing.T) (*Enforcer, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	auditLogger := audit.NewLogger(postgres.NewDB(sqlDB), logger)
	return NewEnforcer(auditLogger, nil, logger), mock, func() { sqlDB.Close() }
}

func freeOrg() *orgs.Organization {
	return &orgs.Organization{ID: uuid.New(), Plan: plans.TierFree}
}

func TestCheckUnderLimit(t *testing.T) {
	enforcer, _, cleanup := newTestEnforcer(t)
	defer cleanup()

	counter := &usage.Counter{AIQueries: 49}
	err := enforcer.Check(context.Background(), freeOrg(), counter, usage.KindAIQueries)
	assert.NoError(t, err)
}

func TestCheckAtLimitDeniesAndAudits(t *testing.T) {
	enforcer, mock, cleanup := newTestEnforcer(t)
	defer cleanup()

	org := freeOrg()

	// Denying an AI query writes a limit_hit audit entry.
	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config\\('app.current_org_id'").
		WithArgs(org.ID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	counter := &usage.Counter{AIQueries: 50}
	err := enforcer.Check(context.Background(), org, counter, usage.KindAIQueries)
	require.Error(t, err)
	assert.True(t, IsExceeded(err))

	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, usage.KindAIQueries, exceeded.Kind)
	assert.Equal(t, 50, exceeded.Used)
	assert.Equal(t, 50, exceeded.Limit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckPastLimitDenies(t *testing.T) {
	enforcer, mock, cleanup := newTestEnforcer(t)
	defer cleanup()

	org := freeOrg()
	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config\\('app.current_org_id'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	counter := &usage.Counter{AIQueries: 73}
	err := enforcer.Check(context.Background(), org, counter, usage.KindAIQueries)
	assert.True(t, IsExceeded(err))
}

func TestCheckSeatDenialDoesNotAudit(t *testing.T) {
	enforcer, mock, cleanup := newTestEnforcer(t)
	defer cleanup()

	counter := &usage.Counter{Seats: 1}
	err := enforcer.Check(context.Background(), freeOrg(), counter, usage.KindSeats)
	assert.True(t, IsExceeded(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckUnboundedKind(t *testing.T) {
	enforcer, _, cleanup := newTestEnforcer(t)
	defer cleanup()

	org := &orgs.Organization{ID: uuid.New(), Plan: plans.TierEnterprise}
	counter := &usage.Counter{AIQueries: 1_000_000, Documents: 50_000, Seats: 900}

	for _, kind := range []usage.Kind{usage.KindAIQueries, usage.KindDocuments, usage.KindSeats} {
		assert.NoError(t, enforcer.Check(context.Background(), org, counter, kind))
	}
}

func TestCheckUnknownPlan(t *testing.T) {
	enforcer, _, cleanup := newTestEnforcer(t)
	defer cleanup()

	org := &orgs.Organization{ID: uuid.New(), Plan: plans.Tier("gold")}
	err := enforcer.Check(context.Background(), org, &usage.Counter{}, usage.KindAIQueries)
	assert.Error(t, err)
	assert.False(t, IsExceeded(err))
}

func TestWarnings(t *testing.T) {
	enforcer, _, cleanup := newTestEnforcer(t)
	defer cleanup()

	org := &orgs.Organization{ID: uuid.New(), Plan: plans.TierPro}

	tests := []struct {
		name      string
		aiQueries int
		wantWarn  bool
	}{
		{"well under threshold", 100, false},
		{"just under threshold", 399, false},
		{"at threshold", 400, true},
		{"inside band", 450, true},
		{"just under limit", 499, true},
		{"at limit is a denial not a warning", 500, false},
		{"past limit", 600, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &usage.Counter{AIQueries: tt.aiQueries}
			warnings := enforcer.Warnings(org, counter)

			found := false
			for _, w := range warnings {
				if w.Kind == usage.KindAIQueries {
					found = true
					assert.Equal(t, tt.aiQueries, w.Used)
					assert.Equal(t, 500, w.Limit)
				}
			}
			assert.Equal(t, tt.wantWarn, found)
		})
	}
}

func TestWarningsUnboundedPlan(t *testing.T) {
	enforcer, _, cleanup := newTestEnforcer(t)
	defer cleanup()

	org := &orgs.Organization{ID: uuid.New(), Plan: plans.TierEnterprise}
	counter := &usage.Counter{AIQueries: 10_000, Documents: 900, Seats: 450}
	assert.Empty(t, enforcer.Warnings(org, counter))
}
