package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "artifacts.db")
	db, err := Open(ctx, file)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		"select count(*) from sqlite_master where type='table' and name like '%_artifact'").Scan(&n))
	assert.Equal(t, 2, n)
	require.NoError(t, db.Close())

	// reopening an existing database is a no-op migration
	db, err = Open(ctx, file)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
