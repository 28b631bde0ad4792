// Package storage opens the single embedded SQLite database shared by every
// durable subsystem (conversations, messages, memories, failures, scheduled
// tasks, executions, notifications). Each subsystem owns its own tables and
// migrations; this package only owns the connection and its pragmas.
package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens (creating if absent) the SQLite database at path and applies
// the pragma tuning the rest of the codebase assumes is already in place.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-8000",
		"PRAGMA mmap_size=67108864",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	// A single writer connection avoids SQLITE_BUSY under WAL when several
	// subsystems (conversation store, scheduler heartbeat, failure log)
	// write concurrently from goroutines sharing this *sql.DB.
	db.SetMaxOpenConns(1)

	return db, nil
}
