package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"duckq/internal/protocol"
)

// errProcessExited stops the command pump once the child closes stdout.
var errProcessExited = errors.New("worker process exited")

// Process hosts an execution context in a child process speaking the
// JSON-lines protocol over stdin and stdout. Each Run starts a new child, so
// the engine and everything it allocated go away with it.
type Process struct {
	Path   string
	Args   []string
	Env    []string // appended to the current environment
	Stderr io.Writer
	Logger *slog.Logger
}

// Run starts the child and relays commands from in to it and its responses
// to out until in is closed, ctx is done, or the child exits. Canceling ctx
// kills the child.
func (p *Process) Run(ctx context.Context, in <-chan protocol.Command, out chan<- protocol.Response) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, p.Path, p.Args...)
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Stderr = p.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker process: %w", err)
	}
	logger.Debug("worker process started", "pid", cmd.Process.Pid)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer stdin.Close() //nolint:errcheck
		enc := protocol.NewEncoder(stdin)
		for {
			select {
			case <-gctx.Done():
				return nil
			case c, ok := <-in:
				if !ok {
					return nil
				}
				if err := enc.WriteCommand(c); err != nil {
					return fmt.Errorf("send %s: %w", c.CommandType(), err)
				}
			}
		}
	})

	g.Go(func() error {
		dec := protocol.NewDecoder(stdout)
		for {
			resp, err := dec.ReadResponse()
			if errors.Is(err, io.EOF) {
				return errProcessExited
			}
			if err != nil {
				return fmt.Errorf("receive response: %w", err)
			}
			select {
			case out <- resp:
			case <-gctx.Done():
				return nil
			}
		}
	})

	relayErr := g.Wait()
	waitErr := cmd.Wait()
	logger.Debug("worker process stopped", "pid", cmd.Process.Pid, "error", waitErr)

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case relayErr != nil && !errors.Is(relayErr, errProcessExited):
		return relayErr
	case waitErr != nil:
		return fmt.Errorf("worker process: %w", waitErr)
	default:
		return nil
	}
}
