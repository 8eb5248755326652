package landscape

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/dshills/corepipe/payload"
)

// NewSQLiteStore opens (creating if absent) a SQLite-backed Recorder at
// path. A single connection is kept so the write queue's serialization
// matches the database's own single-writer model; WAL mode still lets
// readers (e.g. replay tooling) proceed concurrently.
func NewSQLiteStore(path string, store payload.Store) (*SQLRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("landscape: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("landscape: apply pragma %q: %w", pragma, err)
		}
	}

	return newSQLRecorder(db, store)
}
