package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/khangdang-jpg/weeklyback/internal/store"
)

func newReplayCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "replay <run-id>",
		Short: "Re-print a previously saved run's summary without re-simulating it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return &inputError{fmt.Errorf("run id must be numeric: %w", err)}
			}
			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			run, err := db.Runs().Get(uint(id))
			if err != nil {
				return err
			}
			fmt.Printf("run %d: %s to %s, exit_mode=%s, tie_breaker=%s\n",
				run.ID, run.FromDate, run.ToDate, run.ExitMode, run.TieBreaker)
			fmt.Println(run.SummaryJSON)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "./backtest.db", "SQLite database path for run history")
	return cmd
}
