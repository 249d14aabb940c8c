package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/xuecangming/folder-copy/internal/common/types"
)

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(config types.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", ConnString(config))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	if config.MaxConnections > 0 {
		db.SetMaxOpenConns(config.MaxConnections)
		db.SetMaxIdleConns(config.MaxConnections / 2)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// ConnString builds the lib/pq keyword/value connection string
func ConnString(config types.DatabaseConfig) string {
	sslMode := config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host,
		config.Port,
		config.User,
		config.Password,
		config.Name,
		sslMode,
	)
}

// RunMigrations runs database migrations
func RunMigrations(db *sql.DB) error {
	migrations := []string{
		createStoragesTable,
		createProjectStoragesTable,
		createFileLinksTable,
		createCopyOperationsTable,
		createCopyPollingStatesTable,
		createJobsTable,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const createStoragesTable = `
CREATE TABLE IF NOT EXISTS storages (
    id                  BIGSERIAL PRIMARY KEY,
    name                VARCHAR(255) NOT NULL,
    provider            VARCHAR(50) NOT NULL,

    host                TEXT NOT NULL DEFAULT '',
    drive_id            VARCHAR(255) NOT NULL DEFAULT '',
    tenant_id           VARCHAR(255) NOT NULL DEFAULT '',
    client_id           VARCHAR(255) NOT NULL DEFAULT '',
    client_secret       TEXT NOT NULL DEFAULT '',
    username            VARCHAR(255) NOT NULL DEFAULT '',
    password            TEXT NOT NULL DEFAULT '',
    project_folder_root TEXT NOT NULL DEFAULT '',

    created_at          TIMESTAMP NOT NULL DEFAULT NOW()
);
`

const createProjectStoragesTable = `
CREATE TABLE IF NOT EXISTS project_storages (
    id                  BIGSERIAL PRIMARY KEY,
    project_id          BIGINT NOT NULL,
    project_name        VARCHAR(255) NOT NULL,
    storage_id          BIGINT NOT NULL REFERENCES storages(id),

    project_folder_id   VARCHAR(255),
    project_folder_mode VARCHAR(20) NOT NULL DEFAULT 'inactive',

    created_at          TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMP NOT NULL DEFAULT NOW(),

    UNIQUE (project_id, storage_id),
    CONSTRAINT project_folder_mode_values CHECK (
        project_folder_mode IN ('inactive', 'manual', 'automatic')
    )
);
`

const createFileLinksTable = `
CREATE TABLE IF NOT EXISTS file_links (
    id                  BIGSERIAL PRIMARY KEY,
    storage_id          BIGINT NOT NULL REFERENCES storages(id),
    container_id        BIGINT NOT NULL,
    container_type      VARCHAR(50) NOT NULL,
    creator_id          BIGINT NOT NULL,

    origin_id           VARCHAR(255),
    origin_name         TEXT NOT NULL DEFAULT '',
    origin_mime_type    VARCHAR(255) NOT NULL DEFAULT '',

    created_at          TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_file_links_container ON file_links(container_type, container_id);
`

const createCopyOperationsTable = `
CREATE TABLE IF NOT EXISTS copy_operations (
    id                  VARCHAR(64) PRIMARY KEY,
    user_id             BIGINT NOT NULL,
    source_project_id   BIGINT NOT NULL DEFAULT 0,
    target_project_id   BIGINT NOT NULL DEFAULT 0,

    status              VARCHAR(20) NOT NULL,
    total_jobs          INT NOT NULL,
    succeeded_jobs      INT NOT NULL DEFAULT 0,
    failed_jobs         INT NOT NULL DEFAULT 0,

    created_at          TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMP NOT NULL DEFAULT NOW(),
    finished_at         TIMESTAMP
);
`

const createCopyPollingStatesTable = `
CREATE TABLE IF NOT EXISTS copy_polling_states (
    operation_id        VARCHAR(64) NOT NULL REFERENCES copy_operations(id) ON DELETE CASCADE,
    source_id           BIGINT NOT NULL,

    phase               VARCHAR(20) NOT NULL,
    polling_url         TEXT NOT NULL DEFAULT '',
    resource_id         VARCHAR(255) NOT NULL DEFAULT '',
    attempts            INT NOT NULL DEFAULT 0,

    updated_at          TIMESTAMP NOT NULL DEFAULT NOW(),

    PRIMARY KEY (operation_id, source_id)
);
`

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id                  VARCHAR(64) PRIMARY KEY,
    kind                VARCHAR(255) NOT NULL,
    operation_id        VARCHAR(64) NOT NULL DEFAULT '',
    unique_key          TEXT NOT NULL DEFAULT '',
    payload             JSONB NOT NULL,

    status              VARCHAR(20) NOT NULL,
    executions          INT NOT NULL DEFAULT 0,
    retries             INT NOT NULL DEFAULT 0,
    run_at              TIMESTAMP NOT NULL,
    locked_until        TIMESTAMP,
    last_error          TEXT NOT NULL DEFAULT '',
    result              JSONB,

    created_at          TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMP NOT NULL DEFAULT NOW(),
    finished_at         TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_unique_live ON jobs(unique_key)
    WHERE status IN ('queued', 'running') AND unique_key <> '';
ALTER TABLE jobs ADD COLUMN IF NOT EXISTS locked_until TIMESTAMP;

CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(status, run_at);
CREATE INDEX IF NOT EXISTS idx_jobs_lease ON jobs(locked_until) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_jobs_operation ON jobs(operation_id);
`
