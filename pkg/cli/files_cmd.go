package cli

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"duckq/internal/domain"
)

func newFilesCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage stored files",
	}
	cmd.AddCommand(newFilesPutCmd(st))
	cmd.AddCommand(newFilesListCmd(st))
	cmd.AddCommand(newFilesRmCmd(st))
	return cmd
}

func newFilesPutCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "put <path>...",
		Short: "Store files and print their keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := st.App()
			if err != nil {
				return err
			}

			uploads := make([]domain.NewFile, len(args))
			g := new(errgroup.Group)
			g.SetLimit(4)
			for i, path := range args {
				g.Go(func() error {
					data, err := os.ReadFile(path) //nolint:gosec // user-supplied path
					if err != nil {
						return fmt.Errorf("read %s: %w", path, err)
					}
					name := filepath.Base(path)
					uploads[i] = domain.NewFile{
						Name:     name,
						MimeType: mimeType(name),
						Data:     data,
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			rows := make([][]string, 0, len(uploads))
			type stored struct {
				Key  string `json:"key"`
				Name string `json:"name"`
				Size int    `json:"size"`
			}
			var out []stored
			for _, f := range uploads {
				key, err := a.Files.Put(cmd.Context(), f)
				if err != nil {
					return fmt.Errorf("store %s: %w", f.Name, err)
				}
				st.logger.Debug("file stored", "key", key, "name", f.Name, "bytes", len(f.Data))
				out = append(out, stored{Key: key, Name: f.Name, Size: len(f.Data)})
				rows = append(rows, []string{key, f.Name, strconv.Itoa(len(f.Data))})
			}

			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), out)
			}
			PrintTable(cmd.OutOrStdout(), []string{"key", "name", "size"}, rows)
			return nil
		},
	}
}

func newFilesListCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := st.App()
			if err != nil {
				return err
			}
			files, err := a.Files.List(cmd.Context())
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				type listed struct {
					Key        string    `json:"key"`
					Name       string    `json:"name"`
					MimeType   string    `json:"mimeType,omitempty"`
					Size       int       `json:"size"`
					UploadedAt time.Time `json:"uploadedAt"`
				}
				out := make([]listed, len(files))
				for i, f := range files {
					out[i] = listed{Key: f.Key, Name: f.Name, MimeType: f.MimeType, Size: len(f.Data), UploadedAt: f.UploadedAt}
				}
				return PrintJSON(cmd.OutOrStdout(), out)
			}

			rows := make([][]string, len(files))
			for i, f := range files {
				rows[i] = []string{f.Key, f.Name, f.MimeType, strconv.Itoa(len(f.Data)), f.UploadedAt.Local().Format(time.DateTime)}
			}
			PrintTable(cmd.OutOrStdout(), []string{"key", "name", "type", "size", "uploaded"}, rows)
			return nil
		},
	}
}

func newFilesRmCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>...",
		Short: "Delete stored files",
		Long:  "Delete stored files. Tables already loaded from them stay queryable until the session is reset.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := st.App()
			if err != nil {
				return err
			}
			for _, key := range args {
				if err := a.Files.Delete(cmd.Context(), key); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// mimeType guesses a content type from the file extension. The built-in
// table lacks .csv on systems without a mime.types file.
func mimeType(name string) string {
	ext := filepath.Ext(name)
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	if strings.EqualFold(ext, ".csv") {
		return "text/csv"
	}
	return "application/octet-stream"
}
