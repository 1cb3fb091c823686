// Package controller drives an execution context from the caller's side:
// it spawns the context lazily, forwards commands without blocking, and
// delivers every response to a single handler in emission order.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"duckq/internal/domain"
	"duckq/internal/protocol"
)

// Runner is an execution context: it consumes commands from in and emits
// responses to out until in is closed or ctx is done.
type Runner interface {
	Run(ctx context.Context, in <-chan protocol.Command, out chan<- protocol.Response) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, in <-chan protocol.Command, out chan<- protocol.Response) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, in <-chan protocol.Command, out chan<- protocol.Response) error {
	return f(ctx, in, out)
}

// SpawnFunc creates a fresh execution context.
type SpawnFunc func() (Runner, error)

// Handler receives responses. It is called from a single goroutine, one
// response at a time.
type Handler func(protocol.Response)

// Controller owns at most one execution context at a time.
type Controller struct {
	spawn  SpawnFunc
	logger *slog.Logger

	mu      sync.Mutex
	exec    *execution
	spawned int

	hmu     sync.Mutex
	handler Handler
}

// execution is one spawned context plus the goroutines feeding it.
type execution struct {
	cancel    context.CancelFunc // stops the runner and pump
	halt      context.CancelFunc // stops delivery
	commands  *queue[protocol.Command]
	responses *queue[protocol.Response]
	stopped   chan struct{} // closed once the runner and pump have returned
}

// New creates a Controller. Nothing is spawned until the first Post or
// Attach.
func New(spawn SpawnFunc, handler Handler, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		spawn:   spawn,
		handler: handler,
		logger:  logger.With("component", "controller"),
	}
}

// Attach replaces the response handler and spawns the execution context if
// none is running. Responses not yet delivered go to the new handler.
func (c *Controller) Attach(handler Handler) error {
	c.hmu.Lock()
	c.handler = handler
	c.hmu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.ensureLocked()
	return err
}

// Post forwards cmd to the execution context, spawning it first if needed.
// It never waits for the command to be handled.
func (c *Controller) Post(cmd protocol.Command) error {
	if cmd == nil {
		return errors.New("post: nil command")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ex, err := c.ensureLocked()
	if err != nil {
		return err
	}
	ex.commands.push(cmd)
	return nil
}

// Running reports whether an execution context is currently spawned.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec != nil
}

// Spawned returns how many execution contexts this controller has created.
func (c *Controller) Spawned() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spawned
}

// Terminate stops the execution context and drops queued commands and
// undelivered responses. It is safe to call when nothing was spawned and
// may be called from a handler. A later Post spawns a new context.
func (c *Controller) Terminate() {
	c.mu.Lock()
	ex := c.exec
	c.exec = nil
	c.mu.Unlock()

	if ex == nil {
		return
	}
	ex.halt()
	ex.cancel()
	<-ex.stopped
	c.logger.Debug("execution context terminated",
		"dropped_commands", ex.commands.len(), "dropped_responses", ex.responses.len())
}

func (c *Controller) ensureLocked() (*execution, error) {
	if c.exec != nil {
		return c.exec, nil
	}
	if c.spawn == nil {
		return nil, errors.New("controller has no spawn function")
	}
	runner, err := c.spawn()
	if err != nil {
		return nil, fmt.Errorf("spawn execution context: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	deliverCtx, halt := context.WithCancel(context.Background())
	ex := &execution{
		cancel:    cancel,
		halt:      halt,
		commands:  newQueue[protocol.Command](),
		responses: newQueue[protocol.Response](),
		stopped:   make(chan struct{}),
	}
	c.exec = ex
	c.spawned++
	c.logger.Debug("execution context spawned", "generation", c.spawned)

	in := make(chan protocol.Command)
	out := make(chan protocol.Response)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer close(in)
		for {
			cmd, ok := ex.commands.pop(ctx)
			if !ok {
				return
			}
			select {
			case in <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()
	runErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		for r := range out {
			ex.responses.push(r)
		}
		if ctx.Err() != nil {
			return
		}
		c.exited(ex, <-runErr)
		cancel()
	}()
	go func() {
		defer wg.Done()
		// Run has returned, so nothing sends on out any more.
		runErr <- runner.Run(ctx, in, out)
		close(out)
	}()
	go func() {
		wg.Wait()
		close(ex.stopped)
	}()
	go c.deliver(deliverCtx, ex)

	return ex, nil
}

// exited handles an execution context that stopped on its own. Callers see
// a final error response; the next Post spawns a replacement.
func (c *Controller) exited(ex *execution, err error) {
	msg := "execution context stopped"
	if err != nil {
		msg = fmt.Sprintf("execution context stopped: %v", err)
		c.logger.Error("execution context failed", "error", err)
	} else {
		c.logger.Warn("execution context stopped")
	}
	ex.responses.push(protocol.Error{Message: msg, Code: domain.KindInternal})
	ex.responses.push(nil) // end of stream for deliver

	c.mu.Lock()
	if c.exec == ex {
		c.exec = nil
	}
	c.mu.Unlock()
}

func (c *Controller) deliver(ctx context.Context, ex *execution) {
	defer ex.halt()
	for {
		r, ok := ex.responses.pop(ctx)
		if !ok || r == nil || ctx.Err() != nil {
			return
		}
		c.hmu.Lock()
		h := c.handler
		c.hmu.Unlock()
		if h == nil {
			c.logger.Warn("response dropped: no handler attached", "type", r.ResponseType())
			continue
		}
		h(r)
	}
}
