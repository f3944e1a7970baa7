package documents

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/storage/postgres"
)

// fakeObjectStore serves fixed content for any key.
type fakeObjectStore struct {
	content []byte
	err     error
}

func (f *fakeObjectStore) Put(ctx context.Context, key string, content io.Reader, contentType string) error {
	return nil
}

func (f *fakeObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error { return nil }

func (f *fakeObjectStore) HealthCheck(ctx context.Context) error { return nil }

type fakeIndexer struct {
	chunks []string
	err    error
}

func (f *fakeIndexer) Index(ctx context.Context, doc *Document, chunks []string) error {
	f.chunks = chunks
	return f.err
}

func newTestPipeline(t *testing.T, objects *fakeObjectStore, indexer *fakeIndexer) (*Pipeline, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	store := NewStore(postgres.NewDB(sqlDB), logger)
	chunker, err := NewChunker(800, 150)
	require.NoError(t, err)

	p := NewPipeline(store, objects, indexer, chunker, 2, time.Minute, nil, logger)
	return p, mock, func() { sqlDB.Close() }
}

func documentRow(doc *Document) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "org_id", "uploaded_by", "filename", "content_type", "size_bytes",
		"storage_key", "status", "chunk_count", "error", "created_at", "updated_at",
	}).AddRow(doc.ID, doc.OrgID, doc.UploadedBy, doc.Filename, doc.ContentType,
		doc.SizeBytes, doc.StorageKey, doc.Status, doc.ChunkCount, doc.Error,
		doc.CreatedAt, doc.UpdatedAt)
}

func expectOrgBinding(mock sqlmock.Sqlmock, orgID uuid.UUID) {
	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config\\('app.current_org_id'").
		WithArgs(orgID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestRunIndexesDocument(t *testing.T) {
	orgID := uuid.New()
	docID := uuid.New()
	doc := &Document{
		ID: docID, OrgID: orgID, Filename: "a.txt",
		StorageKey: "orgs/x/documents/y/a.txt", Status: StatusProcessing,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	objects := &fakeObjectStore{content: []byte(strings.Repeat("x", 1000))}
	indexer := &fakeIndexer{}
	p, mock, cleanup := newTestPipeline(t, objects, indexer)
	defer cleanup()

	expectOrgBinding(mock, orgID)
	mock.ExpectQuery("SELECT .+ FROM documents WHERE id =").
		WithArgs(docID, orgID).
		WillReturnRows(documentRow(doc))
	mock.ExpectCommit()

	expectOrgBinding(mock, orgID)
	mock.ExpectExec("UPDATE documents SET status =").
		WithArgs(StatusReady, 2, docID, StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p.Run(context.Background(), orgID, docID)

	// 1000 runes with window 800 / overlap 150 split into two chunks.
	assert.Len(t, indexer.chunks, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSkipsDeletedDocument(t *testing.T) {
	orgID := uuid.New()
	docID := uuid.New()

	p, mock, cleanup := newTestPipeline(t, &fakeObjectStore{}, &fakeIndexer{})
	defer cleanup()

	expectOrgBinding(mock, orgID)
	mock.ExpectQuery("SELECT .+ FROM documents WHERE id =").
		WithArgs(docID, orgID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	p.Run(context.Background(), orgID, docID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSkipsAlreadyTerminalDocument(t *testing.T) {
	orgID := uuid.New()
	docID := uuid.New()
	doc := &Document{
		ID: docID, OrgID: orgID, Filename: "a.txt",
		StorageKey: "k", Status: StatusReady, ChunkCount: 3,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	indexer := &fakeIndexer{}
	p, mock, cleanup := newTestPipeline(t, &fakeObjectStore{content: []byte("data")}, indexer)
	defer cleanup()

	expectOrgBinding(mock, orgID)
	mock.ExpectQuery("SELECT .+ FROM documents WHERE id =").
		WillReturnRows(documentRow(doc))
	mock.ExpectCommit()

	p.Run(context.Background(), orgID, docID)
	assert.Nil(t, indexer.chunks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMarksFailedOnIndexerError(t *testing.T) {
	orgID := uuid.New()
	docID := uuid.New()
	doc := &Document{
		ID: docID, OrgID: orgID, Filename: "a.txt",
		StorageKey: "k", Status: StatusProcessing,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	indexer := &fakeIndexer{err: fmt.Errorf("embedding service down")}
	p, mock, cleanup := newTestPipeline(t, &fakeObjectStore{content: []byte("data")}, indexer)
	defer cleanup()

	expectOrgBinding(mock, orgID)
	mock.ExpectQuery("SELECT .+ FROM documents WHERE id =").
		WillReturnRows(documentRow(doc))
	mock.ExpectCommit()

	expectOrgBinding(mock, orgID)
	mock.ExpectExec("UPDATE documents SET status =").
		WithArgs(StatusFailed, sqlmock.AnyArg(), docID, StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p.Run(context.Background(), orgID, docID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMarksFailedOnEmptyContent(t *testing.T) {
	orgID := uuid.New()
	docID := uuid.New()
	doc := &Document{
		ID: docID, OrgID: orgID, Filename: "empty.txt",
		StorageKey: "k", Status: StatusProcessing,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	p, mock, cleanup := newTestPipeline(t, &fakeObjectStore{content: nil}, &fakeIndexer{})
	defer cleanup()

	expectOrgBinding(mock, orgID)
	mock.ExpectQuery("SELECT .+ FROM documents WHERE id =").
		WillReturnRows(documentRow(doc))
	mock.ExpectCommit()

	expectOrgBinding(mock, orgID)
	mock.ExpectExec("UPDATE documents SET status =").
		WithArgs(StatusFailed, sqlmock.AnyArg(), docID, StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p.Run(context.Background(), orgID, docID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
