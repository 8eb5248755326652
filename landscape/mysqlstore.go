package landscape

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dshills/corepipe/payload"
)

// NewMySQLStore opens a MySQL-backed Recorder against dsn. The write
// queue already serializes writes, so the pool only needs enough
// connections for concurrent reads made outside it (replay, reporting).
func NewMySQLStore(dsn string, store payload.Store) (*SQLRecorder, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("landscape: open mysql: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLRecorder(db, store)
}
