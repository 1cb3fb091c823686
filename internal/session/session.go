// Package session owns one analytical engine instance and its connection
// for the lifetime of an execution context.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"golang.org/x/sync/singleflight"

	"duckq/internal/ddl"
	"duckq/internal/domain"
)

// Factory builds a new analytical engine instance.
type Factory func(ctx context.Context) (domain.AnalyticalEngine, error)

var nonWord = regexp.MustCompile(`\W`)

// TableName derives a table identifier from a file name by replacing every
// non-word character with an underscore: "sales q1.csv" -> "sales_q1_csv".
func TableName(fileName string) string {
	return nonWord.ReplaceAllString(fileName, "_")
}

// Session lazily stands up exactly one engine and one connection and reuses
// them until Reset. The engine is never absent while the connection is
// present.
type Session struct {
	factory Factory
	logger  *slog.Logger
	group   singleflight.Group

	mu     sync.Mutex
	engine domain.AnalyticalEngine
	conn   domain.EngineConn
	gen    uint64 // bumped by Reset; a build from an older generation is discarded
}

// New creates a Session that builds engines with factory.
func New(factory Factory, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{factory: factory, logger: logger}
}

// EnsureReady returns the live connection, building the engine and opening
// the connection on first use. Concurrent callers share one construction.
func (s *Session) EnsureReady(ctx context.Context) (domain.EngineConn, error) {
	if conn := s.current(); conn != nil {
		return conn, nil
	}
	v, err, _ := s.group.Do("ready", func() (interface{}, error) {
		return s.build(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(domain.EngineConn), nil
}

func (s *Session) build(ctx context.Context) (domain.EngineConn, error) {
	s.mu.Lock()
	if s.conn != nil {
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	}
	eng, gen := s.engine, s.gen
	s.mu.Unlock()

	fresh := eng == nil
	if fresh {
		var err error
		eng, err = s.factory(ctx)
		if err != nil {
			return nil, domain.WrapEngineError("start engine", err)
		}
		s.logger.Debug("engine started")
	}

	conn, err := eng.Connect(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		if conn != nil {
			_ = conn.Close()
		}
		if fresh {
			_ = eng.Close()
		}
		return nil, domain.NewCommandError(domain.KindEngineNotReady, "session reset during initialization")
	}
	s.engine = eng
	if err != nil {
		return nil, domain.WrapEngineError("connect engine", err)
	}
	s.conn = conn
	return conn, nil
}

func (s *Session) current() domain.EngineConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) requireConn() (domain.EngineConn, error) {
	conn := s.current()
	if conn == nil {
		return nil, domain.NewCommandError(domain.KindEngineNotReady, "DB not initialized")
	}
	return conn, nil
}

// LoadTable registers data with the engine under fileName and (re)creates
// the derived table from it through CSV auto-detection. Loading the same
// name twice replaces the table.
func (s *Session) LoadTable(ctx context.Context, data []byte, fileName string) (string, error) {
	conn, err := s.EnsureReady(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()
	if eng == nil {
		return "", domain.NewCommandError(domain.KindEngineNotReady, "session reset during load")
	}

	table := TableName(fileName)
	location, err := eng.RegisterFileBuffer(ctx, fileName, data)
	if err != nil {
		return "", domain.WrapEngineError(fmt.Sprintf("register %s", fileName), err)
	}

	drop, err := ddl.DropTableIfExists(table)
	if err != nil {
		return "", domain.ErrValidation("invalid table name: %v", err)
	}
	create, err := ddl.CreateTableFromCSV(table, location)
	if err != nil {
		return "", domain.ErrValidation("invalid table name: %v", err)
	}
	if err := conn.Exec(ctx, drop); err != nil {
		return "", domain.WrapEngineError(fmt.Sprintf("drop table %s", table), err)
	}
	if err := conn.Exec(ctx, create); err != nil {
		return "", domain.WrapEngineError(fmt.Sprintf("create table %s", table), err)
	}

	s.logger.Info("table loaded", "table", table, "file", fileName, "bytes", len(data))
	return table, nil
}

// RunQuery executes query on the live connection. It fails with
// EngineNotReady when nothing has been loaded since the last reset.
func (s *Session) RunQuery(ctx context.Context, query string) (*domain.ResultSet, error) {
	conn, err := s.requireConn()
	if err != nil {
		return nil, err
	}
	rs, err := conn.Query(ctx, query)
	if err != nil {
		return nil, domain.WrapEngineError("query failed", err)
	}
	return rs, nil
}

// GetSchema lists the tables visible on the live connection.
func (s *Session) GetSchema(ctx context.Context) ([]string, error) {
	conn, err := s.requireConn()
	if err != nil {
		return nil, err
	}
	rs, err := conn.Query(ctx, ddl.ShowTables())
	if err != nil {
		return nil, domain.WrapEngineError("list tables", err)
	}
	names := make([]string, 0, len(rs.Rows))
	if len(rs.Columns) == 0 {
		return names, nil
	}
	col := rs.Columns[0]
	for _, row := range rs.Rows {
		names = append(names, fmt.Sprint(row[col]))
	}
	return names, nil
}

// Ready reports whether a connection is currently held.
func (s *Session) Ready() bool {
	return s.current() != nil
}

// Reset drops the engine and connection. The next EnsureReady rebuilds
// both from scratch. Resetting an empty session is a no-op.
func (s *Session) Reset() {
	s.mu.Lock()
	eng, conn := s.engine, s.conn
	s.engine, s.conn = nil, nil
	s.gen++
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Warn("close engine connection", "error", err)
		}
	}
	if eng != nil {
		if err := eng.Close(); err != nil {
			s.logger.Warn("close engine", "error", err)
		}
		s.logger.Debug("engine released")
	}
}
