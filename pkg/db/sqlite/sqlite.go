// Package sqlite opens the local artifact database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/mpapenbr/iracelog-racemodel/pkg/db/migrate"
)

// Open opens (or creates) the database at path and applies all migrations.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every connection would get its own database
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrate.MigrateSqlite(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
