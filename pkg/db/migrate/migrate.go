package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/mpapenbr/iracelog-racemodel/log"
)

//go:embed migrations
var migrations embed.FS

// MigrateDb applies the postgres migrations to the database at dbURI
// (postgresql://...).
func MigrateDb(dbURI string) error {
	source, err := iofs.New(migrations, "migrations/postgres")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, pgx5URL(dbURI))
	if err != nil {
		return err
	}
	defer m.Close()
	m.Log = &migrateLogger{l: log.Default().Named("migrate")}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

// pgx5URL switches the scheme to the one registered by the pgx/v5 driver.
func pgx5URL(dbURI string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dbURI, scheme) {
			return "pgx5://" + strings.TrimPrefix(dbURI, scheme)
		}
	}
	return dbURI
}

// MigrateSqlite applies the sqlite migrations to db. The database handle
// stays open.
func MigrateSqlite(db *sql.DB) error {
	source, err := iofs.New(migrations, "migrations/sqlite")
	if err != nil {
		return err
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}
	// closing m would close db
	m.Log = &migrateLogger{l: log.Default().Named("migrate")}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct {
	l *log.Logger
}

func (m *migrateLogger) Printf(format string, v ...any) {
	m.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (m *migrateLogger) Verbose() bool {
	return m.l.Enabled(log.DebugLevel)
}
