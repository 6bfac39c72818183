package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runExecCmd(t *testing.T, opts *RootOptions, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewExecCommand(opts)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestExecCommand_PutThenGet(t *testing.T) {
	db := filepath.Join(t.TempDir(), "foo")
	opts := testRootOpts("text")

	out, _, err := runExecCmd(t, opts, "--db", db, `{"put": {"id": "obj1"}}`, "--input", `"Hello, from Replicant!"`)
	require.NoError(t, err)
	assert.Empty(t, out, "put has no output")

	out, _, err = runExecCmd(t, opts, "--db", db, "--chunk", "4", `{"get": {"id": "obj1"}}`)
	require.NoError(t, err)
	assert.Equal(t, "\"Hello, from Replicant!\"\n", out)
}

func TestExecCommand_InputFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "store")
	inputPath := filepath.Join(dir, "bundle.js")
	require.NoError(t, os.WriteFile(inputPath, []byte("function f() {}"), 0644))
	opts := testRootOpts("text")

	_, _, err := runExecCmd(t, opts, "--db", db, "--input-file", inputPath, `{"putBundle": {}}`)
	require.NoError(t, err)

	out, _, err := runExecCmd(t, opts, "--db", db, `{"getBundle": {}}`)
	require.NoError(t, err)
	assert.Equal(t, "function f() {}\n", out)
}

func TestExecCommand_JSON(t *testing.T) {
	out, _, err := runExecCmd(t, testRootOpts("json"), "--db", "mem", `{"has": {"id": "x"}}`)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"output": `{"has":false}`, "bytes": float64(13)}, resp.Data)
}

func TestExecCommand_Malformed(t *testing.T) {
	out, _, err := runExecCmd(t, testRootOpts("json"), "--db", "mem", `{"nope": {}}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "MALFORMED", resp.Error.Code)
}

func TestExecCommand_DeferredFailure(t *testing.T) {
	_, errOut, err := runExecCmd(t, testRootOpts("text"), "--db", "mem", `{"get": {"id": "missing"}}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, errOut, "Error [ENGINE]")
	assert.Contains(t, errOut, `get "missing": not found`)
}

func TestExecCommand_NoOutput(t *testing.T) {
	out, _, err := runExecCmd(t, testRootOpts("text"), "--db", "mem", "--no-output", `{"clientID": {}}`)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestExecCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"missing db", []string{`{"clientID": {}}`}, ExitFailure, `required flag(s) "db" not set`},
		{"missing payload", []string{"--db", "mem"}, ExitFailure, "accepts 1 arg"},
		{"both inputs", []string{"--db", "mem", "--input", "1", "--input-file", "x", `{"clientID": {}}`}, ExitFailure, "none of the others can be"},
		{"missing input file", []string{"--db", "mem", "--input-file", "/nonexistent/input", `{"clientID": {}}`}, ExitCommandError, "failed to read input"},
		{"negative chunk", []string{"--db", "mem", "--chunk", "-1", `{"clientID": {}}`}, ExitCommandError, "invalid --chunk"},
		{"bad store", []string{"--db", "", `{"clientID": {}}`}, ExitFailure, "failed to open store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runExecCmd(t, testRootOpts("text"), tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
