package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xuecangming/folder-copy/internal/api"
	"github.com/xuecangming/folder-copy/internal/api/handlers"
	"github.com/xuecangming/folder-copy/internal/core/logger"
)

func newServeCmd() *cobra.Command {
	var withoutWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, with embedded job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if !withoutWorkers {
				a.runner.Start(ctx)
				defer a.runner.Stop()
			}

			health := handlers.HealthOptions{DB: a.db, Scheduler: a.runner, Jobs: a.repos.Jobs}
			server := api.NewServer(a.config, health, a.copyOps, a.logger)
			addr := fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port)
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.logger.Info("Server starting",
					logger.String("addr", addr),
					logger.String("database", a.config.Database.Driver),
					logger.Bool("workers", !withoutWorkers))
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				a.logger.Info("Server shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil {
				a.logger.Error("Server stopped with error", logger.Error(err))
				return err
			}
			a.logger.Info("Server stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&withoutWorkers, "no-workers", false, "serve the API only, jobs are run by separate worker processes")
	return cmd
}
