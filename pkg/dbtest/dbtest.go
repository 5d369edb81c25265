package dbtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apache/archiva-sub036/pkg/db"
	"github.com/apache/archiva-sub036/pkg/types"
)

// InitDB creates an initialized database in a temporary directory and
// stores the given rows. The database is closed when the test ends.
func InitDB(t *testing.T, indexes []types.Index) *db.DB {
	t.Helper()
	dbc, err := db.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbc.Close() })

	require.NoError(t, dbc.Init())
	if len(indexes) > 0 {
		require.NoError(t, dbc.InsertIndexes(indexes))
	}
	return &dbc
}
