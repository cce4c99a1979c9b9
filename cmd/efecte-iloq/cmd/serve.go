package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/scheduler"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/server"
)

// newServeCommand runs the HTTP server and the scheduler until interrupted.
func newServeCommand(app Application) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service: HTTP endpoints plus scheduled runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			defer func() { _ = app.Close() }()

			svc, err := app.Service(ctx)
			if err != nil {
				return err
			}

			settings := app.Settings()
			gate := app.LeaderGate()
			cfg := server.DefaultConfig()
			cfg.Addr = settings.ListenAddr
			srv := server.New(cfg, svc, svc.Audit(), gate)

			sched := scheduler.New(svc, gate,
				settings.SyncToILoqInterval, settings.SyncToEfecteInterval)

			schedDone := make(chan struct{})
			go func() {
				defer close(schedDone)
				sched.Run(ctx)
			}()

			serveErr := make(chan error, 1)
			go func() {
				app.Logger().Info().Str("addr", cfg.Addr).Msg("HTTP server listening")
				serveErr <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return err
				}
				<-schedDone
				return nil
			case err := <-serveErr:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}
