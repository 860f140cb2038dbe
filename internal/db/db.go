// Package db persists fusion batch results and watchdog events in SQLite
// and exposes the database on the debug admin routes.
package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/elevation.map/internal/monitoring"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

// DB wraps the SQLite handle. Every row written through a DB carries the
// run id generated when it was opened, so several process lifetimes can
// share one file.
type DB struct {
	*sql.DB
	path  string
	runID string
}

// NewDB opens (or creates) the database at path and migrates it to the
// latest schema.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps the per-connection pragmas in force.
	sqlDB.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	db := &DB{DB: sqlDB, path: path, runID: uuid.NewString()}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		sqlDB.Close()
		return nil, err
	}

	monitoring.Logf("opened database %s (run %s)", path, db.runID)
	return db, nil
}

// RunID identifies this process lifetime in the event tables.
func (db *DB) RunID() string { return db.runID }

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }
