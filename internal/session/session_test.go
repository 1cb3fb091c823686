package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckq/internal/domain"
	"duckq/internal/engine"
	"duckq/internal/session"
	"duckq/internal/testutil"
)

var ctx = context.Background()

func newDuckSession(t *testing.T) *session.Session {
	t.Helper()
	s := session.New(session.Factory(engine.NewFactory(engine.Options{ScratchDir: t.TempDir()})), nil)
	t.Cleanup(s.Reset)
	return s
}

func TestTableName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sales q1.csv", "sales_q1_csv"},
		{"plain", "plain"},
		{"a-b.c d", "a_b_c_d"},
		{"2024.csv", "2024_csv"},
		{"données.csv", "donn_es_csv"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, session.TableName(tt.in))
		})
	}
}

func fakeEngine() *testutil.MockEngine {
	return &testutil.MockEngine{
		ConnectFn: func(context.Context) (domain.EngineConn, error) {
			return &testutil.MockConn{}, nil
		},
	}
}

func TestEnsureReady_ConstructsOnce(t *testing.T) {
	release := make(chan struct{})
	factory := &testutil.EngineFactory{New: func(context.Context) (domain.AnalyticalEngine, error) {
		<-release
		return fakeEngine(), nil
	}}
	s := session.New(factory.Build, nil)

	const callers = 8
	var wg sync.WaitGroup
	conns := make([]domain.EngineConn, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = s.EnsureReady(ctx)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, conns[0], conns[i])
	}
	assert.Equal(t, 1, factory.Calls())

	again, err := s.EnsureReady(ctx)
	require.NoError(t, err)
	assert.Same(t, conns[0], again)
	assert.Equal(t, 1, factory.Calls())
}

func TestEnsureReady_FactoryFailureIsEngineFailure(t *testing.T) {
	factory := &testutil.EngineFactory{New: func(context.Context) (domain.AnalyticalEngine, error) {
		return nil, errors.New("no memory")
	}}
	s := session.New(factory.Build, nil)

	_, err := s.EnsureReady(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEngineFailure)
	assert.False(t, s.Ready())

	// Failures are not memoized.
	_, err = s.EnsureReady(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, factory.Calls())
}

func TestEnsureReady_ConnectFailureKeepsEngine(t *testing.T) {
	attempts := 0
	eng := &testutil.MockEngine{ConnectFn: func(context.Context) (domain.EngineConn, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("busy")
		}
		return &testutil.MockConn{}, nil
	}}
	factory := &testutil.EngineFactory{New: func(context.Context) (domain.AnalyticalEngine, error) {
		return eng, nil
	}}
	s := session.New(factory.Build, nil)

	_, err := s.EnsureReady(ctx)
	require.ErrorIs(t, err, domain.ErrEngineFailure)

	_, err = s.EnsureReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, factory.Calls())
}

func TestReset_ReleasesAndRebuilds(t *testing.T) {
	var engines []*testutil.MockEngine
	factory := &testutil.EngineFactory{New: func(context.Context) (domain.AnalyticalEngine, error) {
		e := fakeEngine()
		engines = append(engines, e)
		return e, nil
	}}
	s := session.New(factory.Build, nil)

	s.Reset() // no-op before first use

	_, err := s.EnsureReady(ctx)
	require.NoError(t, err)
	require.True(t, s.Ready())

	s.Reset()
	s.Reset()
	assert.False(t, s.Ready())
	assert.Equal(t, 1, engines[0].Closed())

	_, err = s.RunQuery(ctx, "SELECT 1")
	assert.ErrorIs(t, err, domain.ErrEngineNotReady)

	_, err = s.EnsureReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, factory.Calls())
}

func TestRunQuery_NotReady(t *testing.T) {
	factory := &testutil.EngineFactory{}
	s := session.New(factory.Build, nil)

	_, err := s.RunQuery(ctx, "SELECT 1")
	require.ErrorIs(t, err, domain.ErrEngineNotReady)
	_, err = s.GetSchema(ctx)
	require.ErrorIs(t, err, domain.ErrEngineNotReady)
	assert.Equal(t, 0, factory.Calls(), "queries never construct an engine")
}

func TestLoadTable_DuckDB(t *testing.T) {
	s := newDuckSession(t)

	table, err := s.LoadTable(ctx, []byte("id,name\n1,a\n2,b\n3,c\n"), "sales q1.csv")
	require.NoError(t, err)
	assert.Equal(t, "sales_q1_csv", table)

	rs, err := s.RunQuery(ctx, "SELECT id, name FROM sales_q1_csv ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, rs.Columns)
	require.Len(t, rs.Rows, 3)
	assert.EqualValues(t, 1, rs.Rows[0]["id"])
	assert.Equal(t, "c", rs.Rows[2]["name"])
}

func TestLoadTable_ReloadReplaces(t *testing.T) {
	s := newDuckSession(t)

	_, err := s.LoadTable(ctx, []byte("n\n1\n2\n"), "nums.csv")
	require.NoError(t, err)
	_, err = s.LoadTable(ctx, []byte("n\n7\n"), "nums.csv")
	require.NoError(t, err)

	rs, err := s.RunQuery(ctx, "SELECT n FROM nums_csv")
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.EqualValues(t, 7, rs.Rows[0]["n"])
}

func TestGetSchema_DuckDB(t *testing.T) {
	s := newDuckSession(t)

	_, err := s.LoadTable(ctx, []byte("a\n1\n"), "b.csv")
	require.NoError(t, err)
	_, err = s.LoadTable(ctx, []byte("a\n1\n"), "a.csv")
	require.NoError(t, err)

	names, err := s.GetSchema(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a_csv", "b_csv"}, names)
}

func TestRunQuery_EngineError(t *testing.T) {
	s := newDuckSession(t)
	_, err := s.LoadTable(ctx, []byte("a\n1\n"), "a.csv")
	require.NoError(t, err)

	_, err = s.RunQuery(ctx, "SELECT * FROM missing_table")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEngineFailure)
	assert.Equal(t, domain.KindEngineFailure, domain.KindOf(err))
}

func TestReset_DropsTables(t *testing.T) {
	s := newDuckSession(t)
	_, err := s.LoadTable(ctx, []byte("a\n1\n"), "a.csv")
	require.NoError(t, err)

	s.Reset()
	_, err = s.EnsureReady(ctx)
	require.NoError(t, err)

	names, err := s.GetSchema(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}
