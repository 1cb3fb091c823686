package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"duckq/internal/app"
)

const shellHelp = `.load KEY    load a stored file into a table
.tables      list tables
.reset       drop every table and restart the engine
.help        show this help
.quit        exit
Any other input is SQL, terminated by ';'.
`

func newShellCmd(st *state) *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive SQL session over one execution context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := st.App()
			if err != nil {
				return err
			}
			if err := loadFiles(cmd.Context(), st, a, files); err != nil {
				return err
			}
			sh := &shell{
				app:    a,
				out:    cmd.OutOrStdout(),
				errOut: cmd.ErrOrStderr(),
				format: getOutputFormat(cmd),
			}
			in := cmd.InOrStdin()
			if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				sh.prompt = true
			}
			return sh.run(cmd.Context(), in)
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Stored file key to load on start (repeatable)")
	return cmd
}

type shell struct {
	app    *app.App
	out    io.Writer
	errOut io.Writer
	format string
	prompt bool
}

func (s *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pending strings.Builder
	s.showPrompt(false)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		if pending.Len() == 0 && strings.HasPrefix(line, ".") {
			if quit := s.dot(ctx, line); quit {
				return nil
			}
			s.showPrompt(false)
			continue
		}
		if line == "" {
			s.showPrompt(pending.Len() > 0)
			continue
		}

		if pending.Len() > 0 {
			pending.WriteByte('\n')
		}
		pending.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			s.showPrompt(true)
			continue
		}

		query := pending.String()
		pending.Reset()
		s.sql(ctx, query)
		s.showPrompt(false)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if pending.Len() > 0 {
		s.sql(ctx, pending.String())
	}
	return nil
}

func (s *shell) showPrompt(continuation bool) {
	if !s.prompt {
		return
	}
	if continuation {
		_, _ = fmt.Fprint(s.out, "   ...> ")
		return
	}
	_, _ = fmt.Fprint(s.out, "duckq> ")
}

// dot runs a shell command and reports whether the shell should exit.
func (s *shell) dot(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".quit", ".exit":
		return true
	case ".help":
		_, _ = fmt.Fprint(s.out, shellHelp)
	case ".load":
		if len(fields) != 2 {
			s.fail(fmt.Errorf("usage: .load KEY"))
			return false
		}
		table, err := s.app.Client.Load(ctx, fields[1])
		if err != nil {
			s.fail(err)
			return false
		}
		_, _ = fmt.Fprintf(s.out, "loaded %s\n", table)
	case ".tables":
		names, err := s.app.Client.Schema(ctx)
		if err != nil {
			s.fail(err)
			return false
		}
		for _, n := range names {
			_, _ = fmt.Fprintln(s.out, n)
		}
	case ".reset":
		if err := s.app.Client.Reset(ctx); err != nil {
			s.fail(err)
			return false
		}
		_, _ = fmt.Fprintln(s.out, "session reset")
	default:
		s.fail(fmt.Errorf("unknown command %s, try .help", fields[0]))
	}
	return false
}

func (s *shell) sql(ctx context.Context, query string) {
	rs, err := s.app.Client.Query(ctx, query)
	if err != nil {
		s.fail(err)
		return
	}
	if err := printResult(s.out, s.format, rs); err != nil {
		s.fail(err)
	}
}

func (s *shell) fail(err error) {
	_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
}
