package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"duckq/internal/protocol"
)

// Serve runs w over a byte stream: commands are decoded from r one JSON
// message per line and responses are written to wr in emission order. It
// returns when r reaches EOF and every response has been written.
func Serve(ctx context.Context, w *Worker, r io.Reader, wr io.Writer) error {
	in := make(chan protocol.Command)
	out := make(chan protocol.Response)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(in)
		dec := protocol.NewDecoder(r)
		for {
			cmd, err := dec.ReadCommand()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read command: %w", err)
			}
			select {
			case in <- cmd:
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		defer close(out)
		return w.Run(gctx, in, out)
	})

	g.Go(func() error {
		enc := protocol.NewEncoder(wr)
		for resp := range out {
			if err := enc.WriteResponse(resp); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}
		return nil
	})

	return g.Wait()
}
