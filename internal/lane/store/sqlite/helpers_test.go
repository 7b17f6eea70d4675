package sqlite_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/Portunus/lane/internal/db"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/store/sqlite"
)

// newTestStore returns a queue store over a private in-memory database
// with the migrations applied. Everything is torn down with the test.
func newTestStore(t *testing.T) *sqlite.QueueStore {
	t.Helper()

	// A single connection keeps the :memory: database alive and shared
	// between the reader and the worker.
	conn, err := sql.Open("sqlite", "file::memory:?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, db.Migrate(context.Background(), conn))

	w := db.NewWorker(conn)
	t.Cleanup(w.Close)

	return sqlite.NewQueueStore(conn, w, "lane-entry-1")
}
