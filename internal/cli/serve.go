package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/DevRickLin/chat-digest/internal/api"
	"github.com/DevRickLin/chat-digest/internal/service"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the retention job and the query API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, opts, modePipeline)
			if err != nil {
				return err
			}
			defer a.Close()

			scheduler := service.NewRunScheduler(a.uc.Run, a.uc.Retention, a.cfg.Pipeline.Tick, service.DefaultCleanupInterval)

			var apiServer *api.Server
			apiErr := make(chan error, 1)
			if a.cfg.APIAddr != "" {
				apiServer = api.NewServer(a.uc.Report, a.metrics.Handler(), a.cfg.APIAddr)
				go func() {
					apiErr <- apiServer.Start()
				}()
			}

			log.Info().
				Str("db", a.cfg.DBPath).
				Dur("window", a.cfg.Pipeline.Window).
				Int("workers", a.cfg.Pipeline.Workers).
				Msg("Starting chat-digest")
			scheduler.Start(ctx)

			select {
			case <-ctx.Done():
			case err = <-apiErr:
				if err != nil {
					err = fmt.Errorf("api server: %w", err)
				}
			}

			log.Info().Msg("Shutting down...")
			scheduler.Stop()
			if apiServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if stopErr := apiServer.Stop(shutdownCtx); stopErr != nil {
					log.Warn().Err(stopErr).Msg("API server shutdown")
				}
			}
			return err
		},
	}
}
