package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreConformance(t, newTestSQLite(t))
}

func TestSQLiteTimeFormatOrdersLexically(t *testing.T) {
	early := time.Date(2024, 1, 10, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	late := early.Add(500 * time.Millisecond)

	assert.Less(t, formatSQLiteTime(early), formatSQLiteTime(late))
	assert.Equal(t, "2024-01-10T08:00:00.000000000Z", formatSQLiteTime(early))

	parsed, err := parseSQLiteTime(formatSQLiteTime(late))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(late))
}

func TestSQLiteDSN(t *testing.T) {
	all := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

	assert.Equal(t, "matcher.db?"+all, sqliteDSN("matcher.db"))
	assert.Equal(t, "file:matcher.db?cache=shared&"+all, sqliteDSN("file:matcher.db?cache=shared"))

	custom := sqliteDSN("matcher.db?_pragma=busy_timeout(100)")
	assert.Equal(t, 1, strings.Count(custom, "busy_timeout"))
	assert.Contains(t, custom, "busy_timeout(100)")
	assert.Contains(t, custom, "&_pragma=foreign_keys(1)")
}

func TestSQLitePragmasApplyToEveryConnection(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	// Holding the connections open forces the pool to dial new ones.
	var conns []*sql.Conn
	for i := 0; i < 3; i++ {
		conn, err := s.db.Conn(ctx)
		require.NoError(t, err)
		conns = append(conns, conn)
	}

	for i, conn := range conns {
		var busyTimeout, foreignKeys int
		var journalMode string
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys))
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))

		assert.Equal(t, 5000, busyTimeout, "connection %d", i)
		assert.Equal(t, 1, foreignKeys, "connection %d", i)
		assert.Equal(t, "wal", journalMode, "connection %d", i)
		require.NoError(t, conn.Close())
	}
}
