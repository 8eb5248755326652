package payload

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/dshills/corepipe/canon"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a content-addressed blob store backed by the same
// modernc.org/sqlite database a run's Landscape recorder uses, for
// single-file deployments that want one artifact on disk.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// NewSQLiteStore opens (creating if needed) a blobs table at path, using
// WAL mode and a single open connection so writes never interleave.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("payload: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS payload_blobs (
	digest TEXT PRIMARY KEY,
	bytes  BLOB NOT NULL,
	size   INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("payload: create schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Put inserts b keyed by its digest; a duplicate digest is a no-op.
func (s *SQLiteStore) Put(ctx context.Context, b []byte) (string, error) {
	digest := canon.HashBytes(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payload_blobs (digest, bytes, size) VALUES (?, ?, ?)
		 ON CONFLICT(digest) DO NOTHING`, digest, b, len(b))
	if err != nil {
		return "", fmt.Errorf("payload: insert: %w", err)
	}
	return digest, nil
}

// Get reads the blob stored under digest.
func (s *SQLiteStore) Get(ctx context.Context, digest string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b []byte
	err := s.db.QueryRowContext(ctx, `SELECT bytes FROM payload_blobs WHERE digest = ?`, digest).Scan(&b)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payload: select: %w", err)
	}
	return b, nil
}

// Has reports whether digest is present.
func (s *SQLiteStore) Has(ctx context.Context, digest string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM payload_blobs WHERE digest = ?`, digest).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
