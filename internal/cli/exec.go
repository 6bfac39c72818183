package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rocicorp/diff-server/internal/stream"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Store     string
	Input     string
	InputFile string
	Chunk     int
	NoOutput  bool
}

// ExecResult is the JSON payload of a successful exec.
type ExecResult struct {
	Output string `json:"output"`
	Bytes  int    `json:"bytes"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <command>",
		Short: "Execute one command against a store",
		Long: `Execute one command against a store and print its output.

The command is a JSON payload naming exactly one operation:
  {"put": {"id": ID}}        input: a JSON value
  {"get": {"id": ID}}        output: the stored value
  {"has": {"id": ID}}        output: {"has": bool}
  {"del": {"id": ID}}        output: {"ok": bool}
  {"scan": {"prefix": P, "start": S, "limit": N}}
  {"putBundle": {}}          input: code bundle
  {"getBundle": {}}
  {"clientID": {}}

Exit codes:
  0 - Command succeeded
  1 - The store or the command reported an error
  2 - Command error (bad flags, unreadable input file)

Examples:
  repc exec --db ./foo '{"put": {"id": "obj1"}}' --input '"Hello"'
  repc exec --db ./foo '{"get": {"id": "obj1"}}' --chunk 4
  repc exec --db mem '{"clientID": {}}' --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "db", "", "store spec: a directory, or \"mem\" (required)")
	cmd.Flags().StringVar(&opts.Input, "input", "", "input written before reading")
	cmd.Flags().StringVar(&opts.InputFile, "input-file", "", "file whose contents are written as input")
	cmd.Flags().IntVar(&opts.Chunk, "chunk", 0, "read capacity in bytes (default from config)")
	cmd.Flags().BoolVar(&opts.NoOutput, "no-output", false, "end without reading output")
	_ = cmd.MarkFlagRequired("db")
	cmd.MarkFlagsMutuallyExclusive("input", "input-file")

	return cmd
}

func runExec(opts *ExecOptions, payload string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	input, err := execInput(opts, cmd)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to read input", err)
	}

	chunk := opts.Chunk
	if chunk == 0 {
		chunk = opts.Config.ChunkSize
	}
	if chunk < 0 {
		return f.Fail(ExitCommandError, "invalid --chunk", stream.ErrChunkSize)
	}

	client := newClient(opts.RootOptions)
	ctx := cmd.Context()

	conn, err := client.Open(ctx, []byte(opts.Store))
	if err != nil {
		return f.Fail(ExitFailure, "failed to open store", err)
	}
	defer func() {
		if cerr := client.Close(conn); cerr != nil {
			f.VerboseLog("close: %v", cerr)
		}
	}()

	f.VerboseLog("executing %s on %s (chunk %d)", payload, opts.Store, chunk)
	out, err := stream.Run(ctx, client, conn, stream.Request{
		Command:   []byte(payload),
		Input:     input,
		Read:      !opts.NoOutput,
		ChunkSize: chunk,
	})
	if err != nil {
		return f.Fail(ExitFailure, "execution failed", err)
	}

	if opts.Format == "json" {
		return f.Success(ExecResult{Output: string(out), Bytes: len(out)})
	}
	if len(out) > 0 {
		w := cmd.OutOrStdout()
		w.Write(out)
		fmt.Fprintln(w)
	}
	return nil
}

// execInput returns the input to write, or nil when none was given.
func execInput(opts *ExecOptions, cmd *cobra.Command) ([]byte, error) {
	switch {
	case opts.InputFile != "":
		return os.ReadFile(opts.InputFile)
	case cmd.Flags().Changed("input"):
		return []byte(opts.Input), nil
	}
	return nil, nil
}
