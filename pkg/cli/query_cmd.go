package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"duckq/internal/app"
	"duckq/internal/ddl"
	"duckq/internal/domain"
)

func newQueryCmd(st *state) *cobra.Command {
	var (
		files []string
		save  bool
		ttl   time.Duration
		plan  bool
	)

	cmd := &cobra.Command{
		Use:   "query [flags] <sql>",
		Short: "Load stored files and run SQL against them",
		Long: "Load each --file into a table named after its file name and run the query.\n" +
			"Table names replace every non-word character with an underscore, so\n" +
			"sales-q1.csv becomes sales_q1_csv.",
		Example: `  duckq query --file 6f1c... "SELECT count(*) FROM sales_q1_csv"
  duckq query --file 6f1c... --save --ttl 1h "SELECT * FROM sales_q1_csv"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := st.App()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			query := strings.Join(args, " ")

			if err := loadFiles(ctx, st, a, files); err != nil {
				return err
			}

			var explain []domain.Row
			if plan {
				stmt, err := ddl.Explain(query)
				if err != nil {
					return err
				}
				rs, err := a.Client.Query(ctx, stmt)
				if err != nil {
					return fmt.Errorf("explain: %w", err)
				}
				explain = rs.Rows
				printPlan(cmd, explain)
			}

			rs, err := a.Client.Query(ctx, query)
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), getOutputFormat(cmd), rs); err != nil {
				return err
			}

			if save {
				key, err := a.SaveResult(ctx, query, rs, explain, ttl)
				if err != nil {
					return fmt.Errorf("save result: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "saved as %s\n", key)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Stored file key to load before querying (repeatable)")
	cmd.Flags().BoolVar(&save, "save", false, "Save the result in the cache collection")
	cmd.Flags().DurationVar(&ttl, "ttl", -1, "Lifetime of a saved result; 0 never expires (default from config)")
	cmd.Flags().BoolVar(&plan, "plan", false, "Print the query plan and keep it with a saved result")

	return cmd
}

func newSchemaCmd(st *state) *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "List the tables visible to queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := st.App()
			if err != nil {
				return err
			}
			if err := loadFiles(cmd.Context(), st, a, files); err != nil {
				return err
			}
			names, err := a.Client.Schema(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				if names == nil {
					names = []string{}
				}
				return PrintJSON(cmd.OutOrStdout(), names)
			}
			rows := make([][]string, len(names))
			for i, n := range names {
				rows[i] = []string{n}
			}
			PrintTable(cmd.OutOrStdout(), []string{"table"}, rows)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Stored file key to load first (repeatable)")
	return cmd
}

func loadFiles(ctx context.Context, st *state, a *app.App, keys []string) error {
	for _, key := range keys {
		table, err := a.Client.Load(ctx, key)
		if err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
		st.logger.Debug("file loaded", "key", key, "table", table)
	}
	return nil
}

// printPlan writes the physical plan text of EXPLAIN rows to stderr.
func printPlan(cmd *cobra.Command, rows []domain.Row) {
	for _, r := range rows {
		if v, ok := r["explain_value"]; ok {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), formatCell(v))
		}
	}
}
