package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PoolsMemoized(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "store.sqlite"))
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	first, err := s.Pools(ctx)
	require.NoError(t, err)
	second, err := s.Pools(ctx)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), s.inits.Load())
}

func TestStore_ConcurrentFirstUseInitialisesOnce(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "store.sqlite"))
	t.Cleanup(func() { _ = s.Close() })

	const callers = 16
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		got   = make([]*Pools, callers)
		errs  = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			got[idx], errs[idx] = s.Pools(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, got[0], got[i])
	}
	assert.Equal(t, int64(1), s.inits.Load())
}

func TestStore_SchemaCreated(t *testing.T) {
	s := OpenTestStore(t)
	ctx := context.Background()

	p, err := s.Pools(ctx)
	require.NoError(t, err)

	for _, table := range []string{"files", "cache"} {
		var name string
		err := p.Read.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}

	version, err := SchemaVersion(ctx, p.Write)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestStore_MigrationsIdempotent(t *testing.T) {
	s := OpenTestStore(t)
	ctx := context.Background()

	p, err := s.Pools(ctx)
	require.NoError(t, err)

	_, err = p.Write.ExecContext(ctx,
		"INSERT INTO files (key, name, data, uploaded_at) VALUES ('k', 'a.csv', x'00', 1)")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(ctx, p.Write))

	var n int
	require.NoError(t, p.Read.QueryRowContext(ctx, "SELECT count(*) FROM files").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestStore_ReopenAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.sqlite")
	s := NewStore(path)
	ctx := context.Background()

	p, err := s.Pools(ctx)
	require.NoError(t, err)
	_, err = p.Write.ExecContext(ctx,
		"INSERT INTO files (key, name, data, uploaded_at) VALUES ('k', 'a.csv', x'00', 1)")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	p, err = s.Pools(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var n int
	require.NoError(t, p.Read.QueryRowContext(ctx, "SELECT count(*) FROM files").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestStore_MissingPath(t *testing.T) {
	s := NewStore("")
	_, err := s.Pools(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestStore_CanceledCallerReturnsEarly(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "store.sqlite"))
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either the shared init wins the race or the caller sees its own
	// cancellation; in both cases a fresh caller still gets the pools.
	_, _ = s.Pools(ctx)

	p, err := s.Pools(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, p.Write)
}
