package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"duckq/internal/controller"
	"duckq/internal/domain"
	"duckq/internal/protocol"
)

// Client issues one command at a time through a Controller and waits for
// its responses, correlating them by response type.
type Client struct {
	ctrl  *controller.Controller
	inbox atomic.Pointer[inbox]

	mu sync.Mutex // one command in flight
}

// inbox receives the responses of one execution context generation.
type inbox struct {
	ch     chan protocol.Response
	closed chan struct{}
}

func newInbox() *inbox {
	return &inbox{ch: make(chan protocol.Response, protocol.BatchSize), closed: make(chan struct{})}
}

// NewClient creates a Client over a controller using spawn.
func NewClient(spawn controller.SpawnFunc, logger *slog.Logger) *Client {
	c := &Client{}
	c.inbox.Store(newInbox())
	c.ctrl = controller.New(spawn, c.receive, logger)
	return c
}

func (c *Client) receive(r protocol.Response) {
	in := c.inbox.Load()
	select {
	case in.ch <- r:
	case <-in.closed:
	}
}

// Load loads the stored file key into a table and returns the table name.
func (c *Client) Load(ctx context.Context, key string) (string, error) {
	var table string
	err := c.do(ctx, protocol.LoadData{Key: key}, func(r protocol.Response) (bool, error) {
		loaded, ok := r.(protocol.Loaded)
		if !ok {
			return false, unexpected(r)
		}
		table = loaded.Table
		return true, nil
	})
	return table, err
}

// Query runs sql and reassembles batched results.
func (c *Client) Query(ctx context.Context, sql string) (*domain.ResultSet, error) {
	var col controller.Collector
	err := c.do(ctx, protocol.ExecuteQuery{SQL: sql}, col.Add)
	if err != nil {
		return nil, err
	}
	return col.Result(), nil
}

// Schema lists the loaded tables.
func (c *Client) Schema(ctx context.Context) ([]string, error) {
	var names []string
	err := c.do(ctx, protocol.GetSchema{}, func(r protocol.Response) (bool, error) {
		s, ok := r.(protocol.Schema)
		if !ok {
			return false, unexpected(r)
		}
		names = s.Schema
		return true, nil
	})
	return names, err
}

// Reset drops the engine session.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, protocol.ResetSession{}, func(r protocol.Response) (bool, error) {
		if _, ok := r.(protocol.Cleared); !ok {
			return false, unexpected(r)
		}
		return true, nil
	})
}

// Close terminates the execution context. A later command spawns a new one.
func (c *Client) Close() {
	c.terminate()
}

// do posts cmd and feeds responses to accept until it reports completion.
// An Error response ends the command with that error. If ctx ends first the
// execution context is terminated, since a running command cannot be
// abandoned any other way.
func (c *Client) do(ctx context.Context, cmd protocol.Command, accept func(protocol.Response) (bool, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	in := c.inbox.Load()
	if err := c.ctrl.Post(cmd); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			c.terminate()
			return ctx.Err()
		case r := <-in.ch:
			if e, ok := r.(protocol.Error); ok {
				return &domain.CommandError{Kind: e.Code, Message: e.Message}
			}
			done, err := accept(r)
			if err != nil {
				c.terminate()
				return fmt.Errorf("%s: %w", cmd.CommandType(), err)
			}
			if done {
				return nil
			}
		}
	}
}

// terminate stops the execution context and discards every response it
// produced that has not been read yet.
func (c *Client) terminate() {
	c.ctrl.Terminate()
	old := c.inbox.Swap(newInbox())
	close(old.closed)
}

func unexpected(r protocol.Response) error {
	return fmt.Errorf("unexpected %s response", r.ResponseType())
}
