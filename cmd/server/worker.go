package main

import (
	"github.com/spf13/cobra"

	"github.com/xuecangming/folder-copy/internal/core/logger"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run job workers without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			a.logger.Info("Workers starting", logger.Int("workers", a.config.Scheduler.Workers))
			a.runner.Start(ctx)
			<-ctx.Done()
			a.runner.Stop()
			a.logger.Info("Workers stopped")
			return nil
		},
	}
}
