// Package config handles application configuration: defaults, an optional
// YAML file, and environment variables, in increasing precedence.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"duckq/internal/ddl"
)

// Worker modes.
const (
	WorkerModeInProcess = "inprocess"
	WorkerModeProcess   = "process"
)

// Environment variables read by LoadFromEnv.
const (
	EnvStorePath       = "DUCKQ_STORE_PATH"
	EnvLogLevel        = "DUCKQ_LOG_LEVEL"
	EnvWorkerMode      = "DUCKQ_WORKER_MODE"
	EnvEngineThreads   = "DUCKQ_ENGINE_THREADS"
	EnvEngineMaxMemory = "DUCKQ_ENGINE_MAX_MEMORY"
	EnvCacheTTL        = "DUCKQ_CACHE_TTL"
	EnvConfigFile      = "DUCKQ_CONFIG"
)

// Config holds the settings shared by the CLI and the worker process.
type Config struct {
	StorePath       string        `yaml:"store-path,omitempty" json:"storePath,omitempty"`              // SQLite content store file
	LogLevel        string        `yaml:"log-level,omitempty" json:"logLevel,omitempty"`                // debug, info, warn, error (default "info")
	WorkerMode      string        `yaml:"worker-mode,omitempty" json:"workerMode,omitempty"`            // inprocess (default) or process
	EngineThreads   int           `yaml:"engine-threads,omitempty" json:"engineThreads,omitempty"`      // DuckDB threads; 0 keeps the engine default
	EngineMaxMemory string        `yaml:"engine-max-memory,omitempty" json:"engineMaxMemory,omitempty"` // DuckDB memory limit, e.g. 2GB
	CacheTTL        time.Duration `yaml:"cache-ttl,omitempty" json:"cacheTTL,omitempty"`                // default TTL for saved results; 0 never expires
	Output          string        `yaml:"output,omitempty" json:"output,omitempty"`                     // table (default) or json

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string `yaml:"-" json:"-"`
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("store path must be set (%s)", EnvStorePath)
	}
	switch c.WorkerMode {
	case WorkerModeInProcess, WorkerModeProcess:
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvWorkerMode, WorkerModeInProcess, WorkerModeProcess, c.WorkerMode)
	}
	if c.EngineThreads < 0 {
		return fmt.Errorf("%s must not be negative", EnvEngineThreads)
	}
	if c.EngineMaxMemory != "" {
		if err := ddl.ValidateMemorySize(c.EngineMaxMemory); err != nil {
			return fmt.Errorf("%s: %w", EnvEngineMaxMemory, err)
		}
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("%s must not be negative", EnvCacheTTL)
	}
	switch c.Output {
	case "table", "json":
	default:
		return fmt.Errorf("output must be table or json, got %q", c.Output)
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StorePath:  DefaultStorePath(),
		LogLevel:   "info",
		WorkerMode: WorkerModeInProcess,
		Output:     "table",
	}
}

// Dir returns the path to ~/.duckq/.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".duckq")
}

// FilePath returns the config file location: $DUCKQ_CONFIG, else
// ~/.duckq/config.yaml.
func FilePath() string {
	if v := os.Getenv(EnvConfigFile); v != "" {
		return v
	}
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultStorePath returns $XDG_DATA_HOME/duckq/store.sqlite, falling back
// to ~/.duckq/store.sqlite.
func DefaultStorePath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "duckq", "store.sqlite")
	}
	return filepath.Join(Dir(), "store.sqlite")
}

// LoadFromEnv loads the configuration from defaults, the config file (if it
// exists), and environment variables.
func LoadFromEnv() (*Config, error) {
	return Load(FilePath())
}

// Load is LoadFromEnv with an explicit config file path. A missing file is
// not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.mergeEnv(); err != nil {
		return nil, err
	}
	cfg.WorkerMode = strings.ToLower(strings.TrimSpace(cfg.WorkerMode))
	cfg.Output = strings.ToLower(strings.TrimSpace(cfg.Output))

	if cfg.EngineThreads == 0 && cfg.EngineMaxMemory == "" && cfg.WorkerMode == WorkerModeInProcess {
		cfg.Warnings = append(cfg.Warnings, "engine runs in-process without a memory limit; set "+EnvEngineMaxMemory+" or "+EnvWorkerMode+"=process for large files")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() error {
	if v := os.Getenv(EnvStorePath); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvWorkerMode); v != "" {
		c.WorkerMode = v
	}
	if v := os.Getenv(EnvEngineMaxMemory); v != "" {
		c.EngineMaxMemory = v
	}
	if v := os.Getenv(EnvEngineThreads); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvEngineThreads, v)
		}
		c.EngineThreads = n
	}
	if v := os.Getenv(EnvCacheTTL); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", EnvCacheTTL, v)
		}
		c.CacheTTL = d
	}
	return nil
}

// Environ returns c as environment assignments, for handing the effective
// settings to a child worker. The child always runs its worker in-process.
func (c *Config) Environ() []string {
	return []string{
		EnvStorePath + "=" + c.StorePath,
		EnvLogLevel + "=" + c.LogLevel,
		EnvWorkerMode + "=" + WorkerModeInProcess,
		EnvEngineThreads + "=" + strconv.Itoa(c.EngineThreads),
		EnvEngineMaxMemory + "=" + c.EngineMaxMemory,
		EnvCacheTTL + "=" + c.CacheTTL.String(),
	}
}

// Save writes c to path as YAML, creating the parent directory.
func Save(path string, c *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = unquote(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setenv %s: %w", key, err)
		}
	}
	return scanner.Err()
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
