package documents

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

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	return NewStore(postgres.NewDB(sqlDB), logger), mock, func() { sqlDB.Close() }
}

func scopedCtx(orgID uuid.UUID) context.Context {
	return tenant.With(context.Background(), &tenant.Context{
		OrgID:  orgID,
		UserID: uuid.New(),
		Role:   "member",
	})
}

func TestCreateRequiresTenant(t *testing.T) {
	store, _, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.Create(context.Background(), CreateRequest{Filename: "a.txt"})
	assert.ErrorIs(t, err, tenant.ErrNoTenant)
}

func TestCreateRequiresFilename(t *testing.T) {
	store, _, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.Create(scopedCtx(uuid.New()), CreateRequest{})
	assert.Error(t, err)
}

func TestCreateInsertsProcessingDocument(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	orgID := uuid.New()
	doc := &Document{
		ID: uuid.New(), OrgID: orgID, Filename: "report.pdf",
		ContentType: "application/pdf", SizeBytes: 2048,
		StorageKey: "orgs/o/documents/d/report.pdf", Status: StatusProcessing,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	expectOrgBinding(mock, orgID)
	mock.ExpectQuery("INSERT INTO documents").
		WillReturnRows(documentRow(doc))
	mock.ExpectCommit()

	created, err := store.Create(scopedCtx(orgID), CreateRequest{
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		SizeBytes:   2048,
		StorageKey:  "orgs/o/documents/d/report.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, created.Status)
	assert.Equal(t, "report.pdf", created.Filename)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	orgID := uuid.New()
	expectOrgBinding(mock, orgID)
	mock.ExpectQuery("SELECT .+ FROM documents WHERE id =").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := store.Get(scopedCtx(orgID), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteReturnsDeletedDocument(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	orgID := uuid.New()
	doc := &Document{
		ID: uuid.New(), OrgID: orgID, Filename: "a.txt",
		StorageKey: "orgs/o/documents/d/a.txt", Status: StatusReady, ChunkCount: 4,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	expectOrgBinding(mock, orgID)
	mock.ExpectQuery("DELETE FROM documents WHERE id =").
		WithArgs(doc.ID).
		WillReturnRows(documentRow(doc))
	mock.ExpectCommit()

	deleted, err := store.Delete(scopedCtx(orgID), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.StorageKey, deleted.StorageKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteNotFound(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	orgID := uuid.New()
	expectOrgBinding(mock, orgID)
	mock.ExpectQuery("DELETE FROM documents WHERE id =").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := store.Delete(scopedCtx(orgID), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFailStuck(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE documents SET status =").
		WithArgs(StatusFailed, StatusProcessing, int64(3600)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	count, err := store.FailStuck(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
