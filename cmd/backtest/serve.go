package main

import (
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/khangdang-jpg/weeklyback/internal/apiserver"
	"github.com/khangdang-jpg/weeklyback/internal/logging"
	"github.com/khangdang-jpg/weeklyback/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		dbPath     string
		addr       string
		adminToken string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history and live equity streams over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(verbose, os.Stderr)
			serveLog := logging.Component(log, "apiserver")

			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			srv := apiserver.New(db.Runs(), adminToken, serveLog)
			serveLog.Info().Str("addr", addr).Msg("listening")
			return http.ListenAndServe(addr, srv.Router())
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "./backtest.db", "SQLite database path for run history")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&adminToken, "admin-token", "", "bearer token required for DELETE /runs/:id")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "debug-level logging")
	return cmd
}
