package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

func newTestSQLiteAdapter(t *testing.T) *Adapter {
	t.Helper()
	dsn := "file:" + t.TempDir() + "/entries.db?cache=shared"

	setup, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	_, err = setup.Exec(`CREATE TABLE knowledge_entries (
		id TEXT PRIMARY KEY, title TEXT, content TEXT, url TEXT, updated_at DATETIME)`)
	require.NoError(t, err)
	_, err = setup.Exec(`INSERT INTO knowledge_entries VALUES (?, ?, ?, ?, ?)`,
		"kb-1", "Disk Full Remediation", "Steps to clear disk space", "", time.Now())
	require.NoError(t, err)
	require.NoError(t, setup.Close())

	a := New("kb-database", Config{Dialect: DialectSQLite, DSN: dsn})
	require.NoError(t, a.Initialize(context.Background()))
	return a
}

func TestDatabaseAdapterSearchFindsRow(t *testing.T) {
	a := newTestSQLiteAdapter(t)
	defer a.Cleanup(context.Background())

	results, err := a.Search(context.Background(), "disk", source.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "kb-1", results[0].Document.ID)
}

func TestDatabaseAdapterGetMissingReturnsNotFound(t *testing.T) {
	a := newTestSQLiteAdapter(t)
	defer a.Cleanup(context.Background())

	_, err := a.Get(context.Background(), "nope")
	require.Error(t, err)
}

func TestDatabaseAdapterInitializeRequiresDSN(t *testing.T) {
	a := New("kb-database", Config{Dialect: DialectSQLite})
	require.Error(t, a.Initialize(context.Background()))
}

func TestRebindConvertsDollarPlaceholders(t *testing.T) {
	require.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?", rebind("SELECT * FROM t WHERE a = $1 AND b = $2"))
}
