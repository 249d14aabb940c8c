package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/common/utils"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/core/retry"
	"github.com/xuecangming/folder-copy/internal/core/scheduler"
	"github.com/xuecangming/folder-copy/internal/infrastructure/database"
	"github.com/xuecangming/folder-copy/internal/infrastructure/monitor"
	"github.com/xuecangming/folder-copy/internal/infrastructure/nextcloud"
	"github.com/xuecangming/folder-copy/internal/infrastructure/onedrive"
	"github.com/xuecangming/folder-copy/internal/peripherals"
	"github.com/xuecangming/folder-copy/internal/repository"
	"github.com/xuecangming/folder-copy/internal/service/copyjob"
	"github.com/xuecangming/folder-copy/internal/service/copyoperation"
	"github.com/xuecangming/folder-copy/internal/service/filelink"
	"github.com/xuecangming/folder-copy/internal/service/projectfolder"
	"github.com/xuecangming/folder-copy/internal/service/projectstorage"
)

var (
	// Flags
	configFile string
	debug      bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "folder-copy",
		Short:         "Copies project folders and their file links between storages",
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (defaults to $CONFIG_PATH or configs/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newMigrateCmd(),
		newEnqueueCmd(),
	)
	return cmd
}

// app holds the wired components shared by the commands
type app struct {
	config  *types.Config
	logger  logger.Logger
	db      *sql.DB
	repos   *repository.Repositories
	runner  *scheduler.Runner
	copyOps *copyoperation.Service
}

func loadConfig() (*types.Config, error) {
	if configFile != "" {
		os.Setenv("CONFIG_PATH", configFile)
	}
	config, err := utils.LoadConfig()
	if err != nil {
		return nil, err
	}
	if debug {
		config.Logging.Level = "debug"
	}
	return config, nil
}

func setupLogging(config types.LoggingConfig) (logger.Logger, error) {
	var out io.Writer
	switch config.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "open log file %s", config.Output)
		}
		out = f
	}

	log := logger.New(&logger.Config{
		Level:      logger.ParseLevel(config.Level),
		Format:     config.Format,
		Output:     out,
		TimeFormat: time.RFC3339,
	})
	logger.SetGlobalLogger(log)
	return log, nil
}

// openRepositories connects to Postgres, or returns in-memory repositories
// and a nil db for the memory driver.
func openRepositories(config types.DatabaseConfig, migrate bool) (*sql.DB, *repository.Repositories, error) {
	switch config.Driver {
	case "memory":
		return nil, repository.NewMemory(), nil
	case "", "postgres":
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}

	db, err := database.NewPostgresDB(config)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := database.RunMigrations(db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return db, repository.NewPostgres(db), nil
}

// newRegistry registers every supported storage provider
func newRegistry(config *types.Config, log logger.Logger) *peripherals.Registry {
	retryConfig := retry.FromSettings(config.Retry)

	od := onedrive.NewClient(onedrive.Options{
		GraphURL:          config.Providers.OneDrive.GraphURL,
		LoginURL:          config.Providers.OneDrive.LoginURL,
		Timeout:           time.Duration(config.Providers.OneDrive.Timeout) * time.Second,
		RequestsPerSecond: config.Providers.OneDrive.RequestsPerSecond,
		Retry:             retryConfig,
		Logger:            log.With(logger.String("provider", string(types.ProviderOneDrive))),
	})
	nc := nextcloud.NewClient(nextcloud.Options{
		Timeout: time.Duration(config.Providers.Nextcloud.Timeout) * time.Second,
		Retry:   retryConfig,
		Logger:  log.With(logger.String("provider", string(types.ProviderNextcloud))),
	})

	registry := peripherals.NewRegistry()
	registry.Register(types.ProviderOneDrive, peripherals.Provider{
		CopyFolder:  od,
		FolderFiles: od,
		FilesInfo:   od,
	})
	registry.Register(types.ProviderNextcloud, peripherals.Provider{
		CopyFolder:  nc,
		FolderFiles: nc,
		FilesInfo:   nc,
	})
	return registry
}

// newApp wires repositories, providers, services and the job runner
func newApp(migrate bool) (*app, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := setupLogging(config.Logging)
	if err != nil {
		return nil, err
	}

	db, repos, err := openRepositories(config.Database, migrate)
	if err != nil {
		return nil, err
	}

	registry := newRegistry(config, log)
	runner := scheduler.NewRunner(repos.Jobs, scheduler.Options{
		Workers:      config.Scheduler.Workers,
		PollInterval: time.Duration(config.Scheduler.PollInterval) * time.Millisecond,
		Lease:        time.Duration(config.Scheduler.Lease) * time.Second,
		Logger:       log,
	})
	copyOps := copyoperation.NewService(repos, runner, log)

	job := copyjob.New(copyjob.Dependencies{
		ProjectStorages: repos.ProjectStorages,
		Operations:      repos.Operations,
		PollingStates:   repos.PollingStates,
		Folders:         projectfolder.NewService(registry, log),
		Updater:         projectstorage.NewUpdateService(repos.ProjectStorages, log),
		FileLinks:       filelink.NewService(repos.FileLinks, registry, log),
		Poller:          monitor.NewPoller(time.Duration(config.Providers.OneDrive.Timeout)*time.Second, log),
		Logger:          log,
	})
	runner.Register(copyjob.Kind, job, copyjob.Policy(time.Duration(config.Scheduler.PollingBackoff)*time.Millisecond))
	runner.OnFinished(copyOps.JobFinished)

	return &app{
		config:  config,
		logger:  log,
		db:      db,
		repos:   repos,
		runner:  runner,
		copyOps: copyOps,
	}, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
