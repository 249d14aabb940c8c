package repository

import (
	"context"
	"database/sql"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
)

// PostgresProjectStorageRepository handles project storage data access
type PostgresProjectStorageRepository struct {
	db *sql.DB
}

// NewProjectStorageRepository creates a new project storage repository
func NewProjectStorageRepository(db *sql.DB) *PostgresProjectStorageRepository {
	return &PostgresProjectStorageRepository{db: db}
}

const selectProjectStorage = `
	SELECT ps.id, ps.project_id, ps.project_name, ps.storage_id,
	       ps.project_folder_id, ps.project_folder_mode, ps.created_at, ps.updated_at,
	       s.id, s.name, s.provider, s.host, s.drive_id, s.tenant_id, s.client_id,
	       s.client_secret, s.username, s.password, s.project_folder_root, s.created_at
	FROM project_storages ps
	JOIN storages s ON s.id = ps.storage_id
	WHERE ps.id = $1
`

// Get retrieves a project storage with its storage
func (r *PostgresProjectStorageRepository) Get(ctx context.Context, id int64) (*types.ProjectStorage, error) {
	ps := &types.ProjectStorage{Storage: &types.Storage{}}
	var folderID sql.NullString

	err := r.db.QueryRowContext(ctx, selectProjectStorage, id).Scan(
		&ps.ID,
		&ps.ProjectID,
		&ps.ProjectName,
		&ps.StorageID,
		&folderID,
		&ps.ProjectFolderMode,
		&ps.CreatedAt,
		&ps.UpdatedAt,
		&ps.Storage.ID,
		&ps.Storage.Name,
		&ps.Storage.Provider,
		&ps.Storage.Host,
		&ps.Storage.DriveID,
		&ps.Storage.TenantID,
		&ps.Storage.ClientID,
		&ps.Storage.ClientSecret,
		&ps.Storage.Username,
		&ps.Storage.Password,
		&ps.Storage.ProjectFolderRoot,
		&ps.Storage.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "project storage not found", "get project storage")
	}

	ps.ProjectFolderID = folderID.String
	return ps, nil
}

// UpdateFolder sets the project folder id and mode
func (r *PostgresProjectStorageRepository) UpdateFolder(ctx context.Context, id int64, folderID string, mode types.FolderMode) (*types.ProjectStorage, error) {
	query := `
		UPDATE project_storages
		SET project_folder_id = $2, project_folder_mode = $3, updated_at = $4
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, nullString(folderID), string(mode), time.Now())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "update project storage %d", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, pkgerrors.WithStack(err)
	}
	if rows == 0 {
		return nil, errors.NewNotFoundError("project storage not found")
	}

	return r.Get(ctx, id)
}
