// Command backtest runs the weekly equity backtest engine from the CLI
// (spec §6): `run` executes one backtest over a date range, `serve` exposes
// finished runs over HTTP, and `replay` re-prints a previously saved run's
// summary without re-simulating it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "backtest",
		Short:         "Weekly-cadence equity backtest engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newReplayCmd())
	return root
}
