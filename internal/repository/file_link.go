package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	pkgerrors "github.com/pkg/errors"

	"github.com/xuecangming/folder-copy/internal/common/types"
)

// PostgresFileLinkRepository handles file link data access
type PostgresFileLinkRepository struct {
	db *sql.DB
}

// NewFileLinkRepository creates a new file link repository
func NewFileLinkRepository(db *sql.DB) *PostgresFileLinkRepository {
	return &PostgresFileLinkRepository{db: db}
}

// ListByContainers returns the links of all given containers, ordered by id
func (r *PostgresFileLinkRepository) ListByContainers(ctx context.Context, containerType string, containerIDs []int64) ([]*types.FileLink, error) {
	query := `
		SELECT id, storage_id, container_id, container_type, creator_id,
		       origin_id, origin_name, origin_mime_type, created_at, updated_at
		FROM file_links
		WHERE container_type = $1 AND container_id = ANY($2)
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, containerType, pq.Array(containerIDs))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list file links")
	}
	defer rows.Close()

	var links []*types.FileLink
	for rows.Next() {
		link := &types.FileLink{}
		var originID sql.NullString
		if err := rows.Scan(
			&link.ID,
			&link.StorageID,
			&link.ContainerID,
			&link.ContainerType,
			&link.CreatorID,
			&originID,
			&link.OriginName,
			&link.OriginMimeType,
			&link.CreatedAt,
			&link.UpdatedAt,
		); err != nil {
			return nil, pkgerrors.Wrap(err, "scan file link")
		}
		link.OriginID = originID.String
		links = append(links, link)
	}

	return links, pkgerrors.WithStack(rows.Err())
}

// Create inserts a new file link and returns it with id and timestamps
func (r *PostgresFileLinkRepository) Create(ctx context.Context, link *types.FileLink) (*types.FileLink, error) {
	query := `
		INSERT INTO file_links (storage_id, container_id, container_type, creator_id,
		                        origin_id, origin_name, origin_mime_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id, created_at, updated_at
	`

	created := *link
	err := r.db.QueryRowContext(ctx, query,
		link.StorageID,
		link.ContainerID,
		link.ContainerType,
		link.CreatorID,
		nullString(link.OriginID),
		link.OriginName,
		link.OriginMimeType,
		time.Now(),
	).Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create file link")
	}

	return &created, nil
}
