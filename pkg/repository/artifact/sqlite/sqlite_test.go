package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-racemodel/pkg/repository/artifact/artifacttest"
)

func TestStore(t *testing.T) {
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "irm.db"))
	require.NoError(t, err)
	defer st.Close()
	artifacttest.Run(t, st)
}

func TestStore_Memory(t *testing.T) {
	st, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer st.Close()
	artifacttest.Run(t, st)
}
