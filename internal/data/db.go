package data

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens the sqlite database file, enabling foreign keys (cascading
// note deletes rely on this) and a busy timeout so the single-writer
// discipline doesn't surface as spurious SQLITE_BUSY errors under
// concurrent ingestor writers.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("data: open %s: %w", path, err)
	}
	// sqlite3 has no real connection pool; a single writer avoids
	// "database is locked" under the store's own single-writer discipline.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("data: ping %s: %w", path, err)
	}
	return db, nil
}
