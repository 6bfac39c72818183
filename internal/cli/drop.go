package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// dropWarning is shown before a store is deleted unless --yes is given.
const dropWarning = "This command deletes an entire store and its contents. This operation is not recoverable. Proceed? y/n\n"

// DropOptions holds flags for the drop command.
type DropOptions struct {
	*RootOptions
	Store string
	Yes   bool
}

// DropResult is the JSON payload of the drop command.
type DropResult struct {
	Store   string `json:"store"`
	Dropped bool   `json:"dropped"`
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DropOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Delete a store",
		Long: `Delete a store and everything in it.

Asks for confirmation on stdin; only "y" proceeds. Files in the store
directory that do not belong to the store are left in place.

Examples:
  repc drop --db ./foo
  repc drop --db ./foo --yes --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrop(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "db", "", "store spec: a directory (required)")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runDrop(opts *DropOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if !opts.Yes {
		ok, err := confirm(cmd.InOrStdin(), f.GetErrWriter(), dropWarning)
		if err != nil {
			return f.Fail(ExitCommandError, "failed to read confirmation", err)
		}
		if !ok {
			return dropDone(opts, f, false)
		}
	}

	client := newClient(opts.RootOptions)
	if err := client.Drop(cmd.Context(), []byte(opts.Store)); err != nil {
		return f.Fail(ExitFailure, "failed to drop store", err)
	}
	return dropDone(opts, f, true)
}

func dropDone(opts *DropOptions, f *OutputFormatter, dropped bool) error {
	if opts.Format == "json" {
		return f.Success(DropResult{Store: opts.Store, Dropped: dropped})
	}
	if dropped {
		f.VerboseLog("dropped %s", opts.Store)
	}
	return nil
}

// confirm writes prompt to w and reports whether the answer read from r
// is "y". Input ending without a newline still counts as an answer.
func confirm(r io.Reader, w io.Writer, prompt string) (bool, error) {
	io.WriteString(w, prompt)
	answer, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(answer) == "y", nil
}
