package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"duckq/internal/domain"
)

func newCacheCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage saved query results",
	}
	cmd.AddCommand(newCacheListCmd(st))
	cmd.AddCommand(newCacheGetCmd(st))
	cmd.AddCommand(newCacheRmCmd(st))
	return cmd
}

type cacheJSON struct {
	Key       string            `json:"key"`
	Result    []domain.Row      `json:"result,omitempty"`
	Rows      int               `json:"rows"`
	Plan      *domain.QueryPlan `json:"plan,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	TTL       int64             `json:"ttl,omitempty"` // milliseconds
}

func toCacheJSON(rec domain.CacheRecord, withResult bool) cacheJSON {
	out := cacheJSON{
		Key:       rec.Key,
		Rows:      len(rec.Result),
		Plan:      rec.Plan,
		CreatedAt: rec.CreatedAt,
		TTL:       rec.TTL.Milliseconds(),
	}
	if withResult {
		out.Result = rec.Result
	}
	return out
}

func newCacheListCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live saved results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := st.App()
			if err != nil {
				return err
			}
			recs, err := a.Cache.List(cmd.Context())
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				out := make([]cacheJSON, len(recs))
				for i, r := range recs {
					out[i] = toCacheJSON(r, false)
				}
				return PrintJSON(cmd.OutOrStdout(), out)
			}

			rows := make([][]string, len(recs))
			for i, r := range recs {
				sql, ttl := "", "never"
				if r.Plan != nil {
					sql = r.Plan.SQL
				}
				if r.TTL > 0 {
					ttl = r.TTL.String()
				}
				rows[i] = []string{r.Key, strconv.Itoa(len(r.Result)), ttl, r.CreatedAt.Local().Format(time.DateTime), sql}
			}
			PrintTable(cmd.OutOrStdout(), []string{"key", "rows", "ttl", "created", "sql"}, rows)
			return nil
		},
	}
}

func newCacheGetCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a saved result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := st.App()
			if err != nil {
				return err
			}
			rec, err := a.Cache.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), toCacheJSON(*rec, true))
			}
			if rec.Plan != nil {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "-- %s\n", rec.Plan.SQL)
			}
			return printResult(cmd.OutOrStdout(), "table", &domain.ResultSet{Rows: rec.Result})
		},
	}
}

func newCacheRmCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>...",
		Short: "Delete saved results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := st.App()
			if err != nil {
				return err
			}
			for _, key := range args {
				if err := a.Cache.Delete(cmd.Context(), key); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
