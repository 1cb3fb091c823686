// Package app wires the content store, the execution context, and the
// session controller from a Config.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"duckq/internal/config"
	"duckq/internal/controller"
	"duckq/internal/db"
	"duckq/internal/db/repository"
	"duckq/internal/domain"
	"duckq/internal/engine"
	"duckq/internal/protocol"
	"duckq/internal/session"
	"duckq/internal/worker"
)

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg    *config.Config
	Store  *db.Store // nil opens Cfg.StorePath
	Logger *slog.Logger
	// WorkerCommand is the argv that starts a child worker in process mode.
	// Empty uses the running executable with the "worker" subcommand.
	WorkerCommand []string
}

// App holds the fully-wired application.
type App struct {
	Cfg    *config.Config
	Store  *db.Store
	Files  *repository.FileRepo
	Cache  *repository.CacheRepo
	Client *Client

	logger *slog.Logger
}

// New wires repositories and a controller whose execution contexts run
// in-process or as child processes, per the configured worker mode. Nothing
// is opened until first use.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := deps.Store
	if store == nil {
		store = db.NewStore(cfg.StorePath)
	}

	files := repository.NewFileRepo(store)
	cache := repository.NewCacheRepo(store, logger.With("component", "cache"))

	var spawn controller.SpawnFunc
	switch cfg.WorkerMode {
	case config.WorkerModeProcess:
		argv := deps.WorkerCommand
		if len(argv) == 0 {
			exe, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("locate executable: %w", err)
			}
			argv = []string{exe, "worker"}
		}
		spawn = ProcessSpawner(argv, cfg.Environ(), logger)
	default:
		spawn = InProcessSpawner(cfg, files, logger)
	}

	return &App{
		Cfg:    cfg,
		Store:  store,
		Files:  files,
		Cache:  cache,
		Client: NewClient(spawn, logger),
		logger: logger,
	}, nil
}

// Close terminates the execution context and closes the store.
func (a *App) Close() error {
	a.Client.Close()
	return a.Store.Close()
}

// EngineOptions maps the engine settings of cfg.
func EngineOptions(cfg *config.Config, logger *slog.Logger) engine.Options {
	return engine.Options{
		Threads:   cfg.EngineThreads,
		MaxMemory: cfg.EngineMaxMemory,
		Logger:    logger,
	}
}

// NewWorker builds an execution context over files with a fresh engine
// session.
func NewWorker(cfg *config.Config, files domain.FileReader, logger *slog.Logger) *worker.Worker {
	sess := session.New(session.Factory(engine.NewFactory(EngineOptions(cfg, logger))), logger.With("component", "session"))
	return worker.New(files, sess, logger)
}

// InProcessSpawner runs each execution context as a goroutine.
func InProcessSpawner(cfg *config.Config, files domain.FileReader, logger *slog.Logger) controller.SpawnFunc {
	return func() (controller.Runner, error) {
		return NewWorker(cfg, files, logger), nil
	}
}

// ProcessSpawner runs each execution context as a child process started
// from argv. env is appended to the inherited environment.
func ProcessSpawner(argv, env []string, logger *slog.Logger) controller.SpawnFunc {
	return func() (controller.Runner, error) {
		if len(argv) == 0 {
			return nil, fmt.Errorf("worker command is empty")
		}
		return &worker.Process{
			Path:   argv[0],
			Args:   argv[1:],
			Env:    env,
			Logger: logger.With("component", "process"),
		}, nil
	}
}

// SaveResult stores rs as a cache entry for query. A negative ttl uses the
// configured default. The plan holds the query text and, when given, the
// engine's EXPLAIN output.
func (a *App) SaveResult(ctx context.Context, query string, rs *domain.ResultSet, explain []domain.Row, ttl time.Duration) (string, error) {
	if ttl < 0 {
		ttl = a.Cfg.CacheTTL
	}
	plan := &domain.QueryPlan{SQL: query}
	if len(explain) > 0 {
		steps, err := protocol.MarshalRows(explain)
		if err != nil {
			return "", err
		}
		plan.OptimizedSteps = steps
	}
	return a.Cache.Put(ctx, domain.NewCacheEntry{Result: rs.Rows, Plan: plan, TTL: ttl})
}

// ServeWorker runs one execution context over r and w, reading files from
// the store at cfg.StorePath. It backs the worker subcommand that process
// mode spawns.
func ServeWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, r io.Reader, w io.Writer) error {
	store := db.NewStore(cfg.StorePath)
	defer store.Close() //nolint:errcheck

	files := repository.NewFileRepo(store)
	return worker.Serve(ctx, NewWorker(cfg, files, logger), r, w)
}
