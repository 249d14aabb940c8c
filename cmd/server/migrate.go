package main

import (
	"github.com/spf13/cobra"

	"github.com/xuecangming/folder-copy/internal/infrastructure/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := setupLogging(config.Logging)
			if err != nil {
				return err
			}
			if config.Database.Driver == "memory" {
				log.Info("Memory driver configured, nothing to migrate")
				return nil
			}

			db, err := database.NewPostgresDB(config.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.RunMigrations(db); err != nil {
				return err
			}
			log.Info("Migrations applied")
			return nil
		},
	}
}

