package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"duckq/internal/app"
)

func newWorkerCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Serve one execution context over stdin and stdout",
		Long:   "Reads JSON-lines commands from stdin and writes responses to stdout. Started by --worker-mode=process.",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: st.cfg.SlogLevel(),
			})).With("pid", os.Getpid())
			return app.ServeWorker(cmd.Context(), st.cfg, logger, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
