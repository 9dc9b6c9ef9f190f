package main

import (
	"github.com/spf13/cobra"

	"github.com/banshee-data/beadtrack/internal/api"
	"github.com/banshee-data/beadtrack/internal/results/sqlite"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var (
		listen string
		runID  string
	)
	cmd := &cobra.Command{
		Use:   "serve <results.db>",
		Short: "Serve bead traces and run metadata from a SQLite result file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			if listen == "" {
				listen = s.GetListen()
			}
			db, err := sqlite.NewDB(args[0])
			if err != nil {
				return err
			}
			defer db.Close()

			srv := api.NewServer(nil, db, runID)
			mux := srv.ServeMux()
			if err := srv.AttachAdminRoutes(mux); err != nil {
				return err
			}
			runCtx, stop := signalContext(cmd.Context())
			defer stop()
			return api.Start(runCtx, listen, api.LoggingMiddleware(mux))
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from settings)")
	cmd.Flags().StringVar(&runID, "run", "", "Run to serve (default latest)")
	return cmd
}
