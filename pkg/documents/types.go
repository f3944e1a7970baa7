package documents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Document statuses. A document is created as processing and moves
// exactly once to ready or failed.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// ErrNotFound is returned when a document does not exist in the
// current org's scope.
var ErrNotFound = errors.New("document not found")

// Document is an uploaded file tracked through indexing.
type Document struct {
	ID          uuid.UUID  `json:"id"`
	OrgID       uuid.UUID  `json:"org_id"`
	UploadedBy  *uuid.UUID `json:"uploaded_by,omitempty"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	StorageKey  string     `json:"-"`
	Status      string     `json:"status"`
	ChunkCount  int        `json:"chunk_count"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CreateRequest holds the metadata for a new upload.
type CreateRequest struct {
	Filename    string
	ContentType string
	SizeBytes   int64
	StorageKey  string
}

// Indexer turns document chunks into a searchable representation.
// Retrieval internals live behind this interface.
type Indexer interface {
	Index(ctx context.Context, doc *Document, chunks []string) error
}
