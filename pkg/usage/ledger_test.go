package usage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/storage/postgres"
	"github.com/covebase/cove/pkg/tenant"
)

func newTestLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	return NewLedger(postgres.NewDB(sqlDB), logger), mock, func() { sqlDB.Close() }
}

func scopedCtx(orgID uuid.UUID) context.Context {
	return tenant.With(context.Background(), &tenant.Context{OrgID: orgID, UserID: uuid.New()})
}

func expectOrgBinding(mock sqlmock.Sqlmock, orgID uuid.UUID) {
	mock.ExpectExec("SELECT set_config\\('app.current_org_id'").
		WithArgs(orgID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func counterRow(orgID uuid.UUID, period string, ai, docs, seats int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "org_id", "period", "ai_queries", "documents_uploaded", "seats_used", "updated_at",
	}).AddRow(uuid.New(), orgID, period, ai, docs, seats, time.Now())
}

func TestPeriod(t *testing.T) {
	ts := time.Date(2026, time.March, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "2026-03", Period(ts))
}

func TestGetOrCreateExisting(t *testing.T) {
	ledger, mock, cleanup := newTestLedger(t)
	defer cleanup()

	orgID := uuid.New()
	mock.ExpectBegin()
	expectOrgBinding(mock, orgID)
	mock.ExpectQuery("SELECT (.+) FROM usage_counters").
		WithArgs("2026-03").
		WillReturnRows(counterRow(orgID, "2026-03", 12, 3, 2))
	mock.ExpectCommit()

	counter, err := ledger.GetOrCreate(scopedCtx(orgID), "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 12, counter.AIQueries)
	assert.Equal(t, 3, counter.Documents)
	assert.Equal(t, 2, counter.Seats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateMaterializesRow(t *testing.T) {
	ledger, mock, cleanup := newTestLedger(t)
	defer cleanup()

	orgID := uuid.New()
	mock.ExpectBegin()
	expectOrgBinding(mock, orgID)
	mock.ExpectQuery("SELECT (.+) FROM usage_counters").
		WithArgs("2026-03").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO usage_counters").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM usage_counters").
		WithArgs("2026-03").
		WillReturnRows(counterRow(orgID, "2026-03", 0, 0, 0))
	mock.ExpectCommit()

	counter, err := ledger.GetOrCreate(scopedCtx(orgID), "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 0, counter.AIQueries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateLosesInsertRace(t *testing.T) {
	ledger, mock, cleanup := newTestLedger(t)
	defer cleanup()

	// Another transaction created the row between our SELECT and
	// INSERT: ON CONFLICT DO NOTHING affects zero rows and the
	// follow-up SELECT picks up the winner's row.
	orgID := uuid.New()
	mock.ExpectBegin()
	expectOrgBinding(mock, orgID)
	mock.ExpectQuery("SELECT (.+) FROM usage_counters").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO usage_counters").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM usage_counters").
		WillReturnRows(counterRow(orgID, "2026-03", 5, 1, 1))
	mock.ExpectCommit()

	counter, err := ledger.GetOrCreate(scopedCtx(orgID), "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 5, counter.AIQueries)
}

func TestGetOrCreateRequiresTenant(t *testing.T) {
	ledger, _, cleanup := newTestLedger(t)
	defer cleanup()

	_, err := ledger.GetOrCreate(context.Background(), "2026-03")
	assert.ErrorIs(t, err, tenant.ErrNoTenant)
}

func TestIncrement(t *testing.T) {
	ledger, mock, cleanup := newTestLedger(t)
	defer cleanup()

	orgID := uuid.New()
	mock.ExpectBegin()
	expectOrgBinding(mock, orgID)
	mock.ExpectExec("UPDATE usage_counters").
		WithArgs(1, "2026-03").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ledger.Increment(scopedCtx(orgID), "2026-03", KindAIQueries, 1)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementCreatesMissingPeriod(t *testing.T) {
	ledger, mock, cleanup := newTestLedger(t)
	defer cleanup()

	orgID := uuid.New()
	mock.ExpectBegin()
	expectOrgBinding(mock, orgID)
	mock.ExpectExec("UPDATE usage_counters").
		WithArgs(1, "2026-04").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM usage_counters").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO usage_counters").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM usage_counters").
		WillReturnRows(counterRow(orgID, "2026-04", 0, 0, 0))
	mock.ExpectExec("UPDATE usage_counters").
		WithArgs(1, "2026-04").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ledger.Increment(scopedCtx(orgID), "2026-04", KindDocuments, 1)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementUnknownKind(t *testing.T) {
	ledger, _, cleanup := newTestLedger(t)
	defer cleanup()

	err := ledger.Increment(scopedCtx(uuid.New()), "2026-03", Kind("bandwidth"), 1)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown usage kind")
}

func TestCounterGet(t *testing.T) {
	c := &Counter{AIQueries: 7, Documents: 2, Seats: 4}
	assert.Equal(t, 7, c.Get(KindAIQueries))
	assert.Equal(t, 2, c.Get(KindDocuments))
	assert.Equal(t, 4, c.Get(KindSeats))
	assert.Equal(t, 0, c.Get(Kind("other")))
}
