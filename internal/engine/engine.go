// Package engine adapts an in-process DuckDB database to the
// domain.AnalyticalEngine port.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2" // register the duckdb driver
	"github.com/google/uuid"

	"duckq/internal/ddl"
	"duckq/internal/domain"
)

// Compile-time check.
var _ domain.AnalyticalEngine = (*DuckDB)(nil)

// Options configures a new engine instance.
type Options struct {
	// Threads caps DuckDB worker threads. Zero keeps the DuckDB default.
	Threads int
	// MaxMemory is a DuckDB memory limit such as "2GB". Empty keeps the default.
	MaxMemory string
	// ScratchDir holds registered file buffers. Empty creates a private
	// temporary directory that Close removes.
	ScratchDir string
	Logger     *slog.Logger
}

// DuckDB is an in-memory DuckDB database plus the scratch directory its
// registered files live in.
type DuckDB struct {
	db          *sql.DB
	scratch     string
	ownsScratch bool
	logger      *slog.Logger

	mu    sync.Mutex
	files map[string]string // registered name -> path
}

// Open starts a fresh in-memory DuckDB database and applies the boot
// settings in opts.
func Open(ctx context.Context, opts Options) (*DuckDB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	boot, err := bootStatements(opts)
	if err != nil {
		return nil, err
	}

	scratch, owns := opts.ScratchDir, false
	if scratch == "" {
		scratch, err = os.MkdirTemp("", "duckq-engine-")
		if err != nil {
			return nil, fmt.Errorf("create scratch dir: %w", err)
		}
		owns = true
	} else if err := os.MkdirAll(scratch, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		cleanupScratch(scratch, owns)
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	for _, stmt := range boot {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			cleanupScratch(scratch, owns)
			return nil, fmt.Errorf("apply %q: %w", stmt, err)
		}
	}

	logger.Debug("duckdb engine opened", "scratch", scratch, "threads", opts.Threads, "max_memory", opts.MaxMemory)
	return &DuckDB{
		db:          db,
		scratch:     scratch,
		ownsScratch: owns,
		logger:      logger,
		files:       make(map[string]string),
	}, nil
}

// NewFactory returns a constructor producing a fresh engine per call, for
// use by sessions that build their engine lazily.
func NewFactory(opts Options) func(ctx context.Context) (domain.AnalyticalEngine, error) {
	return func(ctx context.Context) (domain.AnalyticalEngine, error) {
		e, err := Open(ctx, opts)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

// Connect opens a dedicated connection. Tables created through it are
// visible to every other connection of the same engine.
func (e *DuckDB) Connect(ctx context.Context) (domain.EngineConn, error) {
	c, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect duckdb: %w", err)
	}
	return &Conn{conn: c}, nil
}

// RegisterFileBuffer writes data into the scratch directory and returns
// its path. Registering a name again overwrites the previous contents in
// place.
func (e *DuckDB) RegisterFileBuffer(_ context.Context, name string, data []byte) (string, error) {
	if name == "" {
		return "", domain.ErrValidation("file name is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	path, ok := e.files[name]
	if !ok {
		path = filepath.Join(e.scratch, uuid.NewString()+filepath.Ext(name))
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("register file %q: %w", name, err)
	}
	e.files[name] = path
	e.logger.Debug("registered file buffer", "name", name, "path", path, "bytes", len(data))
	return path, nil
}

// Close shuts the database down and removes a private scratch directory.
func (e *DuckDB) Close() error {
	err := e.db.Close()
	cleanupScratch(e.scratch, e.ownsScratch)
	if err != nil {
		return fmt.Errorf("close duckdb: %w", err)
	}
	return nil
}

func bootStatements(opts Options) ([]string, error) {
	var stmts []string
	if opts.Threads > 0 {
		s, err := ddl.SetThreads(opts.Threads)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	if opts.MaxMemory != "" {
		s, err := ddl.SetMaxMemory(opts.MaxMemory)
		if err != nil {
			return nil, domain.ErrValidation("engine max memory: %v", err)
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func cleanupScratch(dir string, owned bool) {
	if owned {
		_ = os.RemoveAll(dir)
	}
}
