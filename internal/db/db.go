// Package db provides the local SQLite database that backs the offline
// queue.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// FileName is the database file created inside the data directory.
const FileName = "pennora.db"

func init() {
	// modernc registers as "sqlite", which sqlx does not map to a bind type.
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

// DB wraps sqlx.DB with the queue database configuration.
type DB struct {
	*sqlx.DB
	path string
}

// Open opens the queue database inside dataDir.
// The database is opened with:
// - WAL mode for concurrent reads/writes
// - a single connection, since SQLite has one writer
// - a busy timeout so concurrent enqueue calls wait instead of failing
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return OpenPath(filepath.Join(dataDir, FileName))
}

// OpenPath opens the database at an explicit path or DSN.
func OpenPath(path string) (*DB, error) {
	db, err := sqlx.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return &DB{DB: db, path: path}, nil
}

// Path returns the path the database was opened with.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
