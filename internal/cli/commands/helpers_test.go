package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapquery/internal/config"
	"github.com/leapstack-labs/leapquery/internal/testutil"
)

// testConfig returns a config on the sample database with a private state
// path.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StatePath: filepath.Join(t.TempDir(), ".leapquery", "state.db"),
		Output:    ModeJSON,
		LogLevel:  config.DefaultLogLevel,
	}
}

// execute runs cmd with cfg and a test logger in its context and returns
// the captured stdout and stderr.
func execute(t *testing.T, cfg *config.Config, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	ctx := config.WithConfig(context.Background(), cfg)
	ctx = config.WithLogger(ctx, testutil.NewTestLogger(t))

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

// decodeRows decodes a JSON table.
func decodeRows(t *testing.T, out string) []map[string]any {
	t.Helper()
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows), out)
	return rows
}

// column collects one key of every row.
func column(rows []map[string]any, key string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[key]
	}
	return out
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func assertNoANSI(t *testing.T, s string) {
	t.Helper()
	assert.False(t, ansiPattern.MatchString(s), "output should not contain ANSI codes: %q", s)
}

// testRenderer returns a renderer writing to buffers.
func testRenderer(mode string, tty bool) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return newRenderer(out, errOut, mode, tty), out, errOut
}
