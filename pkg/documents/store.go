package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/storage/postgres"
	"github.com/covebase/cove/pkg/tenant"
)

const documentColumns = `id, org_id, uploaded_by, filename, content_type, size_bytes, storage_key, status, chunk_count, error, created_at, updated_at`

func scanDocument(row interface{ Scan(...interface{}) error }) (*Document, error) {
	doc := &Document{}
	err := row.Scan(&doc.ID, &doc.OrgID, &doc.UploadedBy, &doc.Filename,
		&doc.ContentType, &doc.SizeBytes, &doc.StorageKey, &doc.Status,
		&doc.ChunkCount, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Store persists document records for the indexing lifecycle.
type Store struct {
	db     *postgres.DB
	logger *observability.Logger
}

// NewStore creates a document store.
func NewStore(db *postgres.DB, logger *observability.Logger) *Store {
	return &Store{db: db, logger: logger.WithComponent("documents")}
}

// Create inserts a new document in processing status for the calling
// tenant's org.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*Document, error) {
	tc, err := tenant.From(ctx)
	if err != nil {
		return nil, err
	}
	if req.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	var doc *Document
	err = s.db.InOrg(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx, `
			INSERT INTO documents (id, org_id, uploaded_by, filename, content_type, size_bytes, storage_key, status, chunk_count, created_at, updated_at)
			VALUES ($1, current_setting('app.current_org_id')::uuid, $2, $3, $4, $5, $6, $7, 0, $8, $8)
			RETURNING `+documentColumns,
			uuid.New(), tc.UserID, req.Filename, req.ContentType, req.SizeBytes, req.StorageKey, StatusProcessing, now)

		var scanErr error
		doc, scanErr = scanDocument(row)
		if scanErr != nil {
			return fmt.Errorf("failed to create document: %w", scanErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Get returns one document in the calling tenant's org. Documents in
// other orgs are indistinguishable from absent ones.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc *Document
	err := s.db.InOrg(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+documentColumns+" FROM documents WHERE id = $1 AND org_id = current_setting('app.current_org_id')::uuid", id)

		var scanErr error
		doc, scanErr = scanDocument(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return ErrNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("failed to get document: %w", scanErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// List returns the calling tenant's documents, newest first.
func (s *Store) List(ctx context.Context) ([]*Document, error) {
	var docs []*Document
	err := s.db.InOrg(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT "+documentColumns+" FROM documents WHERE org_id = current_setting('app.current_org_id')::uuid ORDER BY created_at DESC")
		if err != nil {
			return fmt.Errorf("failed to list documents: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				return fmt.Errorf("failed to scan document: %w", err)
			}
			docs = append(docs, doc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Delete removes a document and returns the deleted record so the
// caller can clean up stored content and release the usage count.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc *Document
	err := s.db.InOrg(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"DELETE FROM documents WHERE id = $1 AND org_id = current_setting('app.current_org_id')::uuid RETURNING "+documentColumns, id)

		var scanErr error
		doc, scanErr = scanDocument(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return ErrNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("failed to delete document: %w", scanErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// forIndexing loads a document inside the pipeline's own unit of work.
// The org is passed explicitly because the pipeline runs detached from
// any request context.
func (s *Store) forIndexing(ctx context.Context, orgID, id uuid.UUID) (*Document, error) {
	var doc *Document
	err := s.db.InOrgID(ctx, orgID, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+documentColumns+" FROM documents WHERE id = $1 AND org_id = $2", id, orgID)

		var scanErr error
		doc, scanErr = scanDocument(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return ErrNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("failed to load document for indexing: %w", scanErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// MarkReady records a successful indexing run. The status guard keeps
// the transition terminal: a document that was deleted or already
// finished is left untouched.
func (s *Store) MarkReady(ctx context.Context, orgID, id uuid.UUID, chunkCount int) error {
	return s.db.InOrgID(ctx, orgID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE documents SET status = $1, chunk_count = $2, error = NULL, updated_at = NOW()
			WHERE id = $3 AND status = $4`,
			StatusReady, chunkCount, id, StatusProcessing)
		if err != nil {
			return fmt.Errorf("failed to mark document ready: %w", err)
		}
		return nil
	})
}

// MarkFailed records a failed indexing run with its error message.
func (s *Store) MarkFailed(ctx context.Context, orgID, id uuid.UUID, message string) error {
	return s.db.InOrgID(ctx, orgID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE documents SET status = $1, error = $2, updated_at = NOW()
			WHERE id = $3 AND status = $4`,
			StatusFailed, message, id, StatusProcessing)
		if err != nil {
			return fmt.Errorf("failed to mark document failed: %w", err)
		}
		return nil
	})
}

// FailStuck marks documents stuck in processing longer than maxAge as
// failed. Run periodically to catch pipeline runs that died without
// reaching a terminal status.
func (s *Store) FailStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	var count int64
	err := s.db.System(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE documents SET status = $1, error = 'indexing timed out', updated_at = NOW()
			WHERE status = $2 AND updated_at < NOW() - ($3 * INTERVAL '1 second')`,
			StatusFailed, StatusProcessing, int64(maxAge.Seconds()))
		if err != nil {
			return fmt.Errorf("failed to expire stuck documents: %w", err)
		}
		count, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
