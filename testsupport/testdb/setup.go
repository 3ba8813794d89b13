package testdb

import (
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	tcpg "github.com/mpapenbr/iracelog-racemodel/testsupport/tcpostgres"
)

// External reports whether tests run against the database given by TESTDB_URL.
func External() bool {
	return os.Getenv("TESTDB_URL") != ""
}

// InitTestDb returns a pool to a migrated database without any artifacts.
func InitTestDb() *pgxpool.Pool {
	var pool *pgxpool.Pool
	if External() {
		pool = tcpg.SetupExternalTestDb()
	} else {
		pool = tcpg.SetupTestDb()
	}
	tcpg.ClearAllTables(pool)
	return pool
}
