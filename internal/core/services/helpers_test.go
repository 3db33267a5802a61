package services

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/trellis/internal/adapters/driven/storage/sqlstore"
)

// newTestStore opens a migrated SQLite warehouse in a temporary directory.
func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()

	store, err := sqlstore.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
