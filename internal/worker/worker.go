// Package worker runs the execution context: a single-threaded loop that
// owns one engine session, handles one command at a time, and answers
// every command with one or more responses.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"duckq/internal/domain"
	"duckq/internal/protocol"
	"duckq/internal/session"
)

// Worker handles protocol commands against its own engine session.
type Worker struct {
	files     domain.FileReader
	session   *session.Session
	logger    *slog.Logger
	batchSize int
}

// New creates a Worker reading stored files from files and running them
// in sess. The Worker takes ownership of sess.
func New(files domain.FileReader, sess *session.Session, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		files:     files,
		session:   sess,
		logger:    logger.With("component", "worker"),
		batchSize: protocol.BatchSize,
	}
}

// Run processes commands from in until in is closed or ctx is done,
// sending responses to out. Commands are handled strictly one at a time in
// arrival order, and all responses of one command are sent before the next
// command is read. The session is reset on return.
func (w *Worker) Run(ctx context.Context, in <-chan protocol.Command, out chan<- protocol.Response) error {
	defer w.session.Reset()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-in:
			if !ok {
				return nil
			}
			for _, resp := range w.Handle(ctx, cmd) {
				select {
				case out <- resp:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Handle runs one command inside a failure boundary. Errors and panics
// become a single Error response; the worker stays usable afterwards.
func (w *Worker) Handle(ctx context.Context, cmd protocol.Command) (resps []protocol.Response) {
	start := time.Now()
	logger := w.logger

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("internal error: %v", r)
			logger.Error("command panicked", "panic", r)
			resps = []protocol.Response{protocol.ErrorFrom(err)}
		}
	}()

	if cmd != nil {
		logger = logger.With("command", cmd.CommandType())
	}
	logger.Debug("handling command")

	resps, err := w.dispatch(ctx, cmd)
	if err != nil {
		logger.Warn("command failed", "error", err, "code", domain.KindOf(err), "duration", time.Since(start))
		return []protocol.Response{protocol.ErrorFrom(err)}
	}
	logger.Info("command completed", "responses", len(resps), "duration", time.Since(start))
	return resps
}

func (w *Worker) dispatch(ctx context.Context, cmd protocol.Command) ([]protocol.Response, error) {
	switch c := cmd.(type) {
	case nil:
		return nil, domain.NewCommandError(domain.KindUnknownCommand, "Unknown message type: <nil>")
	case protocol.LoadData:
		return w.load(ctx, c.Key)
	case protocol.ExecuteQuery:
		return w.query(ctx, c.SQL)
	case protocol.GetSchema:
		names, err := w.session.GetSchema(ctx)
		if err != nil {
			return nil, err
		}
		return []protocol.Response{protocol.Schema{Schema: names}}, nil
	case protocol.ResetSession:
		w.session.Reset()
		return []protocol.Response{protocol.Cleared{}}, nil
	default:
		return nil, domain.NewCommandError(domain.KindUnknownCommand, "Unknown message type: %q", cmd.CommandType())
	}
}

func (w *Worker) load(ctx context.Context, key string) ([]protocol.Response, error) {
	if key == "" {
		return nil, domain.NewCommandError(domain.KindMissingKey, "Missing file key")
	}

	file, err := w.files.Get(ctx, key)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, domain.NewCommandError(domain.KindFileNotFound, "File not found: %s", key)
		}
		return nil, fmt.Errorf("read file %s: %w", key, err)
	}
	if file == nil {
		return nil, domain.NewCommandError(domain.KindFileNotFound, "File not found: %s", key)
	}

	table, err := w.session.LoadTable(ctx, file.Data, file.Name)
	if err != nil {
		return nil, err
	}
	return []protocol.Response{protocol.Loaded{Table: table}}, nil
}

func (w *Worker) query(ctx context.Context, sql string) ([]protocol.Response, error) {
	rs, err := w.session.RunQuery(ctx, sql)
	if err != nil {
		return nil, err
	}

	rows := SerializeRows(rs.Rows)
	columns := rs.Columns
	if columns == nil {
		columns = []string{}
	}

	batches := protocol.Batches(rows, w.batchSize)
	if batches == nil {
		return []protocol.Response{protocol.QueryResult{Columns: columns, Result: rows}}, nil
	}

	resps := make([]protocol.Response, len(batches))
	for i, b := range batches {
		resps[i] = protocol.QueryResultBatch{
			Columns:      columns,
			Batch:        b,
			Index:        i + 1,
			TotalBatches: len(batches),
		}
	}
	w.logger.Debug("result batched", "rows", len(rows), "batches", len(batches))
	return resps, nil
}
