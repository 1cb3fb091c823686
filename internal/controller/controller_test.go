package controller_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckq/internal/controller"
	"duckq/internal/domain"
	"duckq/internal/engine"
	"duckq/internal/protocol"
	"duckq/internal/session"
	"duckq/internal/testutil"
	"duckq/internal/worker"
)

// recorder is a Handler that keeps every response it sees.
type recorder struct {
	mu    sync.Mutex
	resps []protocol.Response
	ch    chan protocol.Response
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan protocol.Response, 4096)}
}

func (r *recorder) handle(resp protocol.Response) {
	r.mu.Lock()
	r.resps = append(r.resps, resp)
	r.mu.Unlock()
	r.ch <- resp
}

func (r *recorder) wait(t *testing.T, n int) []protocol.Response {
	t.Helper()
	out := make([]protocol.Response, 0, n)
	for len(out) < n {
		select {
		case resp := <-r.ch:
			out = append(out, resp)
		case <-time.After(10 * time.Second):
			t.Fatalf("got %d of %d responses", len(out), n)
		}
	}
	return out
}

// echoRunner answers each Unrecognized command with n Schema responses
// numbered in order.
func echoRunner(n int) controller.Runner {
	return controller.RunnerFunc(func(ctx context.Context, in <-chan protocol.Command, out chan<- protocol.Response) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case cmd, ok := <-in:
				if !ok {
					return nil
				}
				for i := 0; i < n; i++ {
					select {
					case out <- protocol.Schema{Schema: []string{fmt.Sprintf("%s-%d", cmd.CommandType(), i)}}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		}
	})
}

func spawnCounting(r func() controller.Runner) (controller.SpawnFunc, *int) {
	var mu sync.Mutex
	n := 0
	return func() (controller.Runner, error) {
		mu.Lock()
		n++
		mu.Unlock()
		return r(), nil
	}, &n
}

func TestController_LazySpawn(t *testing.T) {
	spawn, _ := spawnCounting(func() controller.Runner { return echoRunner(1) })
	rec := newRecorder()
	c := controller.New(spawn, rec.handle, nil)
	defer c.Terminate()

	assert.False(t, c.Running())
	assert.Equal(t, 0, c.Spawned())

	require.NoError(t, c.Post(protocol.Unrecognized{Type: "a"}))
	require.NoError(t, c.Post(protocol.Unrecognized{Type: "b"}))
	rec.wait(t, 2)
	assert.True(t, c.Running())
	assert.Equal(t, 1, c.Spawned())
}

func TestController_TerminateBeforeSpawn(t *testing.T) {
	c := controller.New(nil, nil, nil)
	assert.NotPanics(t, c.Terminate)
	assert.NotPanics(t, c.Terminate)
	assert.Equal(t, 0, c.Spawned())
}

func TestController_SpawnError(t *testing.T) {
	c := controller.New(func() (controller.Runner, error) {
		return nil, errors.New("no binary")
	}, nil, nil)

	err := c.Post(protocol.GetSchema{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no binary")
	assert.False(t, c.Running())
}

func TestController_PostRejectsNil(t *testing.T) {
	spawn, spawned := spawnCounting(func() controller.Runner { return echoRunner(1) })
	c := controller.New(spawn, newRecorder().handle, nil)
	defer c.Terminate()

	require.Error(t, c.Post(nil))
	assert.Equal(t, 0, *spawned, "a rejected command spawns nothing")
}

func TestController_OrderedDelivery(t *testing.T) {
	const perCommand = 300
	spawn, _ := spawnCounting(func() controller.Runner { return echoRunner(perCommand) })
	rec := newRecorder()
	c := controller.New(spawn, rec.handle, nil)
	defer c.Terminate()

	for _, name := range []string{"x", "y", "z"} {
		require.NoError(t, c.Post(protocol.Unrecognized{Type: name}))
	}
	got := rec.wait(t, 3*perCommand)

	i := 0
	for _, name := range []string{"x", "y", "z"} {
		for n := 0; n < perCommand; n++ {
			assert.Equal(t, fmt.Sprintf("%s-%d", name, n), got[i].(protocol.Schema).Schema[0])
			i++
		}
	}
}

func TestController_PostDoesNotBlock(t *testing.T) {
	gate := make(chan struct{})
	runner := controller.RunnerFunc(func(ctx context.Context, in <-chan protocol.Command, out chan<- protocol.Response) error {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return ctx.Err()
	})
	c := controller.New(func() (controller.Runner, error) { return runner, nil }, nil, nil)
	defer c.Terminate()
	defer close(gate)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			_ = c.Post(protocol.GetSchema{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Post blocked on a busy execution context")
	}
}

func TestController_ReattachKeepsQueuedResponses(t *testing.T) {
	const total = 50
	spawn, count := spawnCounting(func() controller.Runner { return echoRunner(total) })

	release := make(chan struct{})
	first := newRecorder()
	var once sync.Once
	blocking := func(r protocol.Response) {
		first.handle(r)
		once.Do(func() { <-release })
	}

	c := controller.New(spawn, blocking, nil)
	defer c.Terminate()

	require.NoError(t, c.Post(protocol.Unrecognized{Type: "q"}))
	first.wait(t, 1) // handler is now stuck on the first response

	second := newRecorder()
	require.NoError(t, c.Attach(second.handle))
	close(release)

	got := second.wait(t, total-1)
	assert.Equal(t, "q-1", got[0].(protocol.Schema).Schema[0])
	assert.Equal(t, fmt.Sprintf("q-%d", total-1), got[len(got)-1].(protocol.Schema).Schema[0])
	assert.Equal(t, 1, *count, "attach reuses the running context")
}

func TestController_AttachSpawns(t *testing.T) {
	spawn, count := spawnCounting(func() controller.Runner { return echoRunner(1) })
	c := controller.New(spawn, nil, nil)
	defer c.Terminate()

	rec := newRecorder()
	require.NoError(t, c.Attach(rec.handle))
	assert.True(t, c.Running())
	assert.Equal(t, 1, *count)
}

func TestController_TerminateThenRespawn(t *testing.T) {
	spawn, count := spawnCounting(func() controller.Runner { return echoRunner(1) })
	rec := newRecorder()
	c := controller.New(spawn, rec.handle, nil)

	require.NoError(t, c.Post(protocol.Unrecognized{Type: "a"}))
	rec.wait(t, 1)

	c.Terminate()
	assert.False(t, c.Running())

	require.NoError(t, c.Post(protocol.Unrecognized{Type: "b"}))
	got := rec.wait(t, 1)
	assert.Equal(t, "b-0", got[0].(protocol.Schema).Schema[0])
	assert.Equal(t, 2, *count)
	c.Terminate()
}

func TestController_TerminateFromHandler(t *testing.T) {
	spawn, _ := spawnCounting(func() controller.Runner { return echoRunner(5) })
	var c *controller.Controller
	done := make(chan struct{})
	c = controller.New(spawn, func(protocol.Response) {
		c.Terminate()
		close(done)
	}, nil)

	require.NoError(t, c.Post(protocol.Unrecognized{Type: "a"}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("terminate from handler deadlocked")
	}
	assert.False(t, c.Running())
}

func TestController_RunnerExitReportsError(t *testing.T) {
	runs := 0
	spawn := func() (controller.Runner, error) {
		runs++
		if runs == 1 {
			return controller.RunnerFunc(func(ctx context.Context, in <-chan protocol.Command, out chan<- protocol.Response) error {
				<-in
				return errors.New("segfault")
			}), nil
		}
		return echoRunner(1), nil
	}
	rec := newRecorder()
	c := controller.New(spawn, rec.handle, nil)
	defer c.Terminate()

	require.NoError(t, c.Post(protocol.GetSchema{}))
	e := rec.wait(t, 1)[0].(protocol.Error)
	assert.Contains(t, e.Message, "segfault")
	assert.Equal(t, domain.KindInternal, e.Code)

	require.Eventually(t, func() bool { return !c.Running() }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Post(protocol.Unrecognized{Type: "again"}))
	assert.Equal(t, "again-0", rec.wait(t, 1)[0].(protocol.Schema).Schema[0])
}

func TestController_ResponsesBeforeExitAreDelivered(t *testing.T) {
	spawn := func() (controller.Runner, error) {
		return controller.RunnerFunc(func(ctx context.Context, in <-chan protocol.Command, out chan<- protocol.Response) error {
			<-in
			out <- protocol.Cleared{}
			return nil
		}), nil
	}
	rec := newRecorder()
	c := controller.New(spawn, rec.handle, nil)
	defer c.Terminate()

	require.NoError(t, c.Post(protocol.ResetSession{}))
	got := rec.wait(t, 2)
	assert.Equal(t, protocol.Cleared{}, got[0])
	assert.IsType(t, protocol.Error{}, got[1])
}

func TestController_WithWorker(t *testing.T) {
	files := testutil.FileMap(map[string]domain.FileRecord{
		"k": {Name: "nums.csv", Data: []byte("n\n1\n2\n")},
	})
	spawn := func() (controller.Runner, error) {
		sess := session.New(session.Factory(engine.NewFactory(engine.Options{ScratchDir: t.TempDir()})), nil)
		return worker.New(files, sess, nil), nil
	}
	rec := newRecorder()
	c := controller.New(spawn, rec.handle, nil)
	defer c.Terminate()

	require.NoError(t, c.Post(protocol.ExecuteQuery{SQL: "SELECT 1"}))
	require.NoError(t, c.Post(protocol.LoadData{Key: "k"}))
	require.NoError(t, c.Post(protocol.ExecuteQuery{SQL: "SELECT range AS n FROM range(1200)"}))
	require.NoError(t, c.Post(protocol.ResetSession{}))
	require.NoError(t, c.Post(protocol.ExecuteQuery{SQL: "SELECT * FROM nums_csv"}))

	got := rec.wait(t, 1+1+3+1+1)
	assert.Equal(t, domain.KindEngineNotReady, got[0].(protocol.Error).Code)
	assert.Equal(t, protocol.Loaded{Table: "nums_csv"}, got[1])

	var col controller.Collector
	for i, r := range got[2:5] {
		done, err := col.Add(r)
		require.NoError(t, err)
		assert.Equal(t, i == 2, done)
	}
	assert.Len(t, col.Result().Rows, 1200)

	assert.Equal(t, protocol.Cleared{}, got[5])
	assert.Equal(t, domain.KindEngineNotReady, got[6].(protocol.Error).Code)
}
