// Package objstore stores raw document content outside the database.
//
// Objects are keyed per organization so stored files never collide
// across tenants. Two backends are provided: S3-compatible object
// storage for deployments and a local filesystem store for development
// and tests.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/config"
)

// ErrObjectNotFound is returned when a stored object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Store persists raw uploaded content.
type Store interface {
	Put(ctx context.Context, key string, content io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// DocumentKey builds the storage key for a document's content.
func DocumentKey(orgID, documentID uuid.UUID, filename string) string {
	return fmt.Sprintf("orgs/%s/documents/%s/%s", orgID, documentID, filename)
}

// New creates the store named by configuration.
func New(cfg config.ObjectStoreConfig) (Store, error) {
	switch cfg.Type {
	case "s3":
		return NewS3Store(cfg)
	case "filesystem":
		return NewFilesystemStore(cfg.FilesystemRoot)
	default:
		return nil, fmt.Errorf("unknown object store type %q", cfg.Type)
	}
}
