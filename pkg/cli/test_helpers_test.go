package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"duckq/internal/config"
)

// isolate points the store and config file at a temp dir for the test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvStorePath, filepath.Join(dir, "store.sqlite"))
	t.Setenv(config.EnvConfigFile, filepath.Join(dir, "config.yaml"))
	t.Setenv(config.EnvWorkerMode, config.WorkerModeInProcess)
	t.Setenv(config.EnvLogLevel, "error")
	t.Setenv(config.EnvEngineMaxMemory, "")
	t.Setenv(config.EnvEngineThreads, "")
	t.Setenv(config.EnvCacheTTL, "")
	return dir
}

// runCLI executes one command line and returns what it wrote to stdout and
// stderr.
func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd, st := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))

	err := cmd.ExecuteContext(t.Context())
	require.NoError(t, st.close())
	return stdout.String(), stderr.String(), err
}

// mustRun is runCLI for commands expected to succeed.
func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := runCLI(t, "", args...)
	require.NoError(t, err, "stderr: %s", stderr)
	return out
}

func decodeJSON(t *testing.T, out string, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(out), v), "output: %s", out)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// putFile stores a CSV through the CLI and returns its key.
func putFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := writeFile(t, dir, name, content)
	var stored []struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	}
	decodeJSON(t, mustRun(t, "-o", "json", "files", "put", path), &stored)
	require.Len(t, stored, 1)
	require.Equal(t, name, stored[0].Name)
	return stored[0].Key
}
