package botdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestDB opens a throwaway database in a temp dir, cleaned up with the
// test. NoSync keeps the suite fast.
func newTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()

	opts = append([]Option{WithNoSync(true)}, opts...)
	db := New(opts...)
	require.NoError(t, db.Open(filepath.Join(t.TempDir(), "test.db")))

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
