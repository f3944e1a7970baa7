package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore stores objects as files under a root directory.
// Intended for local development; production deployments use S3Store.
type FilesystemStore struct {
	rootDir string
}

// NewFilesystemStore creates a filesystem-backed store rooted at rootDir.
func NewFilesystemStore(rootDir string) (*FilesystemStore, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("filesystem store requires a root directory")
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FilesystemStore{rootDir: rootDir}, nil
}

// path resolves a key inside the root, rejecting traversal outside it.
func (s *FilesystemStore) path(key string) (string, error) {
	cleaned := filepath.Join(s.rootDir, filepath.FromSlash(key))
	if !strings.HasPrefix(cleaned, filepath.Clean(s.rootDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return cleaned, nil
}

// Put writes content to a file under the root. Content type is ignored.
func (s *FilesystemStore) Put(ctx context.Context, key string, content io.Reader, contentType string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create object file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, content); err != nil {
		return fmt.Errorf("failed to write object file: %w", err)
	}
	return nil
}

// Get opens a stored object for reading.
func (s *FilesystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to open object file: %w", err)
	}
	return f, nil
}

// Delete removes a stored object. Missing objects are not an error.
func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object file: %w", err)
	}
	return nil
}

// HealthCheck verifies the root directory is usable.
func (s *FilesystemStore) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.rootDir)
	if err != nil {
		return fmt.Errorf("filesystem store health check failed: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("filesystem store root %s is not a directory", s.rootDir)
	}
	return nil
}
