package db

import (
	"database/sql"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_DriverRegistered(t *testing.T) {
	assert.Contains(t, sql.Drivers(), "sqlite3")

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "driver.sqlite"), ModeWrite, 0)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestBuildDSN_Write(t *testing.T) {
	dsn := buildDSN("/tmp/store.sqlite", ModeWrite)

	assert.True(t, strings.HasPrefix(dsn, "file:/tmp/store.sqlite?"))
	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.Contains(t, dsn, "_busy_timeout=5000")
	assert.Contains(t, dsn, "_synchronous=NORMAL")
	assert.Contains(t, dsn, "_txlock=immediate")
}

func TestBuildDSN_Read(t *testing.T) {
	dsn := buildDSN("/tmp/store.sqlite", ModeRead)

	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.NotContains(t, dsn, "_txlock")
}

func TestOpenSQLite_InvalidMode(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), "invalid", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SQLite mode")
}

func TestOpenSQLite_Write(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), ModeWrite, 0)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", strings.ToLower(journalMode))

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestOpenSQLite_ReadDefaultMaxOpen(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), ModeRead, 0)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	assert.Equal(t, 4, db.Stats().MaxOpenConnections)
}

func TestOpenSQLitePair_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "store.sqlite")

	writeDB, readDB, err := OpenSQLitePair(path, 2)
	require.NoError(t, err)
	t.Cleanup(func() {
		readDB.Close()
		writeDB.Close()
	})

	assert.FileExists(t, path)
	assert.Equal(t, 1, writeDB.Stats().MaxOpenConnections)
	assert.Equal(t, 2, readDB.Stats().MaxOpenConnections)
}

func TestOpenSQLitePair_ReadSeesWrites(t *testing.T) {
	writeDB, readDB, err := OpenSQLitePair(filepath.Join(t.TempDir(), "test.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() {
		readDB.Close()
		writeDB.Close()
	})

	_, err = writeDB.Exec("CREATE TABLE nums (n INTEGER)")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		_, err = writeDB.Exec("INSERT INTO nums (n) VALUES (?)", i)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	counts := make([]int, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = readDB.QueryRow("SELECT count(*) FROM nums").Scan(&counts[idx])
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i], "reader %d", i)
		assert.Equal(t, 50, counts[i])
	}
}
