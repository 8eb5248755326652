package payload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/corepipe/canon"
)

// FSStore is a content-addressed blob store rooted at a directory on
// disk. Digests are sharded two levels deep (ab/cd/abcd...) to keep any
// single directory from growing unbounded.
type FSStore struct {
	root string
}

// NewFSStore creates (if needed) root and returns a store backed by it.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("payload: mkdir root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(digest string) string {
	if len(digest) < 4 {
		return filepath.Join(s.root, digest)
	}
	return filepath.Join(s.root, digest[0:2], digest[2:4], digest)
}

// Put writes b to a temp file and renames it into place, so a concurrent
// reader never observes a partially written blob under its final digest.
func (s *FSStore) Put(ctx context.Context, b []byte) (string, error) {
	digest := canon.HashBytes(b)
	dst := s.path(digest)
	if _, err := os.Stat(dst); err == nil {
		return digest, nil // idempotent: already stored
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("payload: mkdir shard: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("payload: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("payload: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("payload: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("payload: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("payload: rename into place: %w", err)
	}
	return digest, nil
}

// Get reads the blob stored under digest.
func (s *FSStore) Get(ctx context.Context, digest string) ([]byte, error) {
	b, err := os.ReadFile(s.path(digest))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payload: read: %w", err)
	}
	return b, nil
}

// Has reports whether digest is present.
func (s *FSStore) Has(ctx context.Context, digest string) (bool, error) {
	_, err := os.Stat(s.path(digest))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
