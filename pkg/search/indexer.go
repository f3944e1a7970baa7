// Package search stores document chunks in Postgres full-text search
// and retrieves the best-matching ones as assistant context.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/documents"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/storage/postgres"
)

// insertBatchSize caps rows per multi-row INSERT.
const insertBatchSize = 100

// Indexer writes chunk rows with a generated tsvector column.
type Indexer struct {
	db     *postgres.DB
	logger *observability.Logger
}

// NewIndexer creates a chunk indexer.
func NewIndexer(db *postgres.DB, logger *observability.Logger) *Indexer {
	return &Indexer{db: db, logger: logger.WithComponent("search")}
}

// Index replaces the stored chunks for a document. Reindexing a
// document first drops its previous chunks so a rerun never duplicates.
func (idx *Indexer) Index(ctx context.Context, doc *documents.Document, chunks []string) error {
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks to index")
	}

	return idx.db.InOrgID(ctx, doc.OrgID, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM document_chunks WHERE document_id = $1", doc.ID); err != nil {
			return fmt.Errorf("failed to clear previous chunks: %w", err)
		}

		for start := 0; start < len(chunks); start += insertBatchSize {
			end := start + insertBatchSize
			if end > len(chunks) {
				end = len(chunks)
			}
			if err := idx.insertChunkBatch(ctx, tx, doc, start, chunks[start:end]); err != nil {
				return fmt.Errorf("failed to insert chunk batch at offset %d: %w", start, err)
			}
		}
		return nil
	})
}

func (idx *Indexer) insertChunkBatch(ctx context.Context, tx *sql.Tx, doc *documents.Document, offset int, chunks []string) error {
	query := `
		INSERT INTO document_chunks (id, org_id, document_id, chunk_index, content)
		VALUES `

	var placeholders []string
	var values []interface{}
	for i, chunk := range chunks {
		base := i * 5
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5))
		values = append(values, uuid.New(), doc.OrgID, doc.ID, offset+i, chunk)
	}

	_, err := tx.ExecContext(ctx, query+strings.Join(placeholders, ", "), values...)
	return err
}
