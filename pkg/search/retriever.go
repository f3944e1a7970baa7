package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/assistant"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/storage/postgres"
)

// defaultTopK is how many chunks make it into the prompt.
const defaultTopK = 5

// Retriever ranks stored chunks against a query with ts_rank.
type Retriever struct {
	db     *postgres.DB
	topK   int
	logger *observability.Logger
}

// NewRetriever creates a retriever. topK <= 0 uses the default.
func NewRetriever(db *postgres.DB, topK int, logger *observability.Logger) *Retriever {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Retriever{db: db, topK: topK, logger: logger.WithComponent("search")}
}

// Retrieve returns the best-matching chunks as one context block plus
// their sources. Only ready documents participate; a query with no
// usable terms or no matches yields empty context, not an error.
func (r *Retriever) Retrieve(ctx context.Context, orgID uuid.UUID, query string) (string, []assistant.Source, error) {
	tsquery := toTsQuery(query)
	if tsquery == "" {
		return "", nil, nil
	}

	var parts []string
	var sources []assistant.Source
	err := r.db.InOrgID(ctx, orgID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT c.content, c.chunk_index, d.filename
			FROM document_chunks c
			JOIN documents d ON d.id = c.document_id
			WHERE c.org_id = current_setting('app.current_org_id')::uuid
			  AND d.status = 'ready'
			  AND c.search_vector @@ to_tsquery('english', $1)
			ORDER BY ts_rank(c.search_vector, to_tsquery('english', $1)) DESC
			LIMIT $2`,
			tsquery, r.topK)
		if err != nil {
			return fmt.Errorf("failed to search chunks: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var content, filename string
			var chunkIndex int
			if err := rows.Scan(&content, &chunkIndex, &filename); err != nil {
				return fmt.Errorf("failed to scan chunk: %w", err)
			}
			parts = append(parts, content)
			sources = append(sources, assistant.Source{
				Label:    filename,
				Position: chunkIndex,
			})
		}
		return rows.Err()
	})
	if err != nil {
		return "", nil, err
	}

	return strings.Join(parts, "\n\n"), sources, nil
}

// toTsQuery turns free text into a conjunctive tsquery, dropping
// anything that could break the query syntax.
func toTsQuery(query string) string {
	var terms []string
	for _, term := range strings.Fields(query) {
		if clean := sanitizeTerm(term); clean != "" {
			terms = append(terms, clean)
		}
	}
	return strings.Join(terms, " & ")
}

func sanitizeTerm(term string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(term) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
