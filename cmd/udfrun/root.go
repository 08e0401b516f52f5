package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
)

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "udfrun [flags] <module.wasm> [v1] [v2]",
		Short: "Call a columnar UDF inside a WebAssembly sandbox",
		Long: `udfrun - Run a user-defined function compiled to WebAssembly.

The two operands are packed into a one-row Arrow batch {v1, v2}, copied
into guest memory and handed to the guest's udf export. The result is
read back under the scalar or descriptor calling convention, and every
guest allocation is released before the next call.

Exit codes:
  0 success
  1 usage or configuration error
  2 module failed to load or violates the export contract
  3 protocol violation (allocation or result descriptor)
  4 output is not the expected record batch
  5 guest fault (trap, timeout, unusable instance)
  6 guest reported an error`,
		Args:          cobra.MaximumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	opts := &runOptions{}
	addRunFlags(root, opts)
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return runUDF(cmd, args, opts)
	}

	root.PersistentFlags().Bool("json-errors", false, "Report failures as a JSON object on stderr")
	root.AddCommand(newSchemaCmd())
	return root
}

// execute runs the command line and maps the outcome to an exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return domainerrors.ExitOK
	}

	// Flag and argument errors from cobra are untyped and map to usage.
	detail := domainerrors.ToErrorDetail(err)
	if asJSON, _ := root.Flags().GetBool("json-errors"); asJSON {
		_ = json.NewEncoder(stderr).Encode(detail)
	} else {
		fmt.Fprintf(stderr, "Error: %v\n", detail)
	}
	return detail.ExitCode
}
