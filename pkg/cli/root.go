// Package cli implements the duckq command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"duckq/internal/app"
	"duckq/internal/config"
	"duckq/internal/domain"
)

// Set with -ldflags "-X duckq/pkg/cli.version=... -X duckq/pkg/cli.commit=...".
var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd, st := newRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	if cerr := st.close(); err == nil {
		err = cerr
	}
	if err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]interface{}{
				"error": err.Error(),
			}
			var ce *domain.CommandError
			if errors.As(err, &ce) {
				errObj["code"] = ce.Kind
			}
			_ = PrintJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// state is resolved once per invocation and shared by subcommands.
type state struct {
	cfg    *config.Config
	logger *slog.Logger
	app    *app.App
}

// App returns the wired application, building it on first use.
func (s *state) App() (*app.App, error) {
	if s.app != nil {
		return s.app, nil
	}
	a, err := app.New(app.Deps{Cfg: s.cfg, Logger: s.logger})
	if err != nil {
		return nil, err
	}
	s.app = a
	return a, nil
}

func (s *state) close() error {
	if s == nil || s.app == nil {
		return nil
	}
	err := s.app.Close()
	s.app = nil
	return err
}

// newRootCmd builds the command tree. The caller closes the returned state
// once the command has run.
func newRootCmd() (*cobra.Command, *state) {
	var (
		storePath  string
		logLevel   string
		workerMode string
		maxMemory  string
		threads    int
		output     string
	)
	st := &state{}

	rootCmd := &cobra.Command{
		Use:   "duckq",
		Short: "Load CSV files into DuckDB and query them",
		Long: "duckq stores uploaded files and saved query results in a local content store " +
			"and queries them through an isolated DuckDB execution context.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			// Apply precedence: flag > env > config file > default
			cmd.Flags().Visit(func(f *pflag.Flag) {
				switch f.Name {
				case "store":
					cfg.StorePath = storePath
				case "log-level":
					cfg.LogLevel = logLevel
				case "worker-mode":
					cfg.WorkerMode = workerMode
				case "max-memory":
					cfg.EngineMaxMemory = maxMemory
				case "threads":
					cfg.EngineThreads = threads
				case "output":
					cfg.Output = output
				}
			})
			output = cfg.Output
			if err := validateOutputFormat(cfg.Output); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			st.cfg = cfg
			st.logger = newLogger(cmd.ErrOrStderr(), cfg.SlogLevel())
			for _, w := range cfg.Warnings {
				st.logger.Debug(w)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Content store path (default $"+config.EnvStorePath+" or "+config.DefaultStorePath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&workerMode, "worker-mode", config.WorkerModeInProcess, "Where queries run (inprocess, process)")
	rootCmd.PersistentFlags().StringVar(&maxMemory, "max-memory", "", "DuckDB memory limit, e.g. 2GB")
	rootCmd.PersistentFlags().IntVar(&threads, "threads", 0, "DuckDB worker threads (0 = engine default)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(newFilesCmd(st))
	rootCmd.AddCommand(newCacheCmd(st))
	rootCmd.AddCommand(newQueryCmd(st))
	rootCmd.AddCommand(newSchemaCmd(st))
	rootCmd.AddCommand(newShellCmd(st))
	rootCmd.AddCommand(newWorkerCmd(st))
	rootCmd.AddCommand(newConfigCmd(st))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd, st
}

// newLogger returns a tint handler on w, coloured only for terminals.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	}))
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
