package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covebase/cove/pkg/documents"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/storage/postgres"
)

type sweepCountingOrgs struct {
	orgs.Service
	sweeps int
}

func (s *sweepCountingOrgs) ExpireStaleInvites(_ context.Context) (int64, error) {
	s.sweeps++
	return 3, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *sweepCountingOrgs, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	svc := &sweepCountingOrgs{}
	store := documents.NewStore(postgres.NewDB(sqlDB), logger)

	sched, err := NewScheduler(svc, store, time.Hour, logger)
	require.NoError(t, err)
	return sched, svc, mock
}

func TestSweepInvites(t *testing.T) {
	sched, svc, _ := newTestScheduler(t)

	sched.sweepInvites()
	assert.Equal(t, 1, svc.sweeps)
}

func TestReapStuckDocuments(t *testing.T) {
	sched, _, mock := newTestScheduler(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE documents").
		WithArgs(documents.StatusFailed, documents.StatusProcessing, int64(3600)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	sched.reapStuckDocuments()
	assert.NoError(t, mock.ExpectationsWereMet())
}
