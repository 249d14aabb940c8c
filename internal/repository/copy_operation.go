package repository

import (
	"context"
	"database/sql"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/xuecangming/folder-copy/internal/common/types"
)

// PostgresCopyOperationRepository handles copy operation data access
type PostgresCopyOperationRepository struct {
	db *sql.DB
}

// NewCopyOperationRepository creates a new copy operation repository
func NewCopyOperationRepository(db *sql.DB) *PostgresCopyOperationRepository {
	return &PostgresCopyOperationRepository{db: db}
}

const copyOperationColumns = `id, user_id, source_project_id, target_project_id, status,
	total_jobs, succeeded_jobs, failed_jobs, created_at, updated_at, finished_at`

func scanCopyOperation(row interface{ Scan(...interface{}) error }) (*types.CopyOperation, error) {
	op := &types.CopyOperation{}
	var finishedAt sql.NullTime
	if err := row.Scan(
		&op.ID,
		&op.UserID,
		&op.SourceProjectID,
		&op.TargetProjectID,
		&op.Status,
		&op.TotalJobs,
		&op.SucceededJobs,
		&op.FailedJobs,
		&op.CreatedAt,
		&op.UpdatedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		op.FinishedAt = &finishedAt.Time
	}
	return op, nil
}

// Create inserts a new copy operation
func (r *PostgresCopyOperationRepository) Create(ctx context.Context, op *types.CopyOperation) error {
	query := `
		INSERT INTO copy_operations (id, user_id, source_project_id, target_project_id, status,
		                             total_jobs, succeeded_jobs, failed_jobs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		op.ID, op.UserID, op.SourceProjectID, op.TargetProjectID, string(op.Status), op.TotalJobs, op.CreatedAt)
	return pkgerrors.Wrap(err, "create copy operation")
}

// Get retrieves a copy operation by id
func (r *PostgresCopyOperationRepository) Get(ctx context.Context, id string) (*types.CopyOperation, error) {
	query := `SELECT ` + copyOperationColumns + ` FROM copy_operations WHERE id = $1`

	op, err := scanCopyOperation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "copy operation not found", "get copy operation")
	}
	return op, nil
}

// RecordJobFinished counts a terminal job in a single statement so
// concurrent workers cannot lose updates.
func (r *PostgresCopyOperationRepository) RecordJobFinished(ctx context.Context, id string, succeeded bool, at time.Time) (*types.CopyOperation, error) {
	query := `
		UPDATE copy_operations SET
			succeeded_jobs = succeeded_jobs + $2,
			failed_jobs    = failed_jobs + $3,
			updated_at     = $4,
			status = CASE
				WHEN succeeded_jobs + failed_jobs + 1 >= total_jobs AND failed_jobs + $3 = 0 THEN 'completed'
				WHEN succeeded_jobs + failed_jobs + 1 >= total_jobs THEN 'failed'
				ELSE status END,
			finished_at = CASE
				WHEN succeeded_jobs + failed_jobs + 1 >= total_jobs THEN $4
				ELSE finished_at END
		WHERE id = $1
		RETURNING ` + copyOperationColumns

	ok, failed := 0, 0
	if succeeded {
		ok = 1
	} else {
		failed = 1
	}

	op, err := scanCopyOperation(r.db.QueryRowContext(ctx, query, id, ok, failed, at))
	if err != nil {
		return nil, notFound(err, "copy operation not found", "record finished job")
	}
	return op, nil
}

// PostgresPollingStateRepository handles polling state data access
type PostgresPollingStateRepository struct {
	db *sql.DB
}

// NewPollingStateRepository creates a new polling state repository
func NewPollingStateRepository(db *sql.DB) *PostgresPollingStateRepository {
	return &PostgresPollingStateRepository{db: db}
}

const pollingStateColumns = `operation_id, source_id, phase, polling_url, resource_id, attempts, updated_at`

func scanPollingState(row interface{ Scan(...interface{}) error }) (*types.PollingState, error) {
	state := &types.PollingState{}
	if err := row.Scan(
		&state.OperationID,
		&state.SourceID,
		&state.Phase,
		&state.PollingURL,
		&state.ResourceID,
		&state.Attempts,
		&state.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return state, nil
}

// Get returns the polling state of a source, or nil when there is none
func (r *PostgresPollingStateRepository) Get(ctx context.Context, operationID string, sourceID int64) (*types.PollingState, error) {
	query := `SELECT ` + pollingStateColumns + ` FROM copy_polling_states WHERE operation_id = $1 AND source_id = $2`

	state, err := scanPollingState(r.db.QueryRowContext(ctx, query, operationID, sourceID))
	if pkgerrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get polling state")
	}
	return state, nil
}

// Put inserts or replaces the polling state of a source
func (r *PostgresPollingStateRepository) Put(ctx context.Context, state *types.PollingState) error {
	query := `
		INSERT INTO copy_polling_states (` + pollingStateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (operation_id, source_id) DO UPDATE SET
			phase = EXCLUDED.phase,
			polling_url = EXCLUDED.polling_url,
			resource_id = EXCLUDED.resource_id,
			attempts = EXCLUDED.attempts,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		state.OperationID, state.SourceID, string(state.Phase),
		state.PollingURL, state.ResourceID, state.Attempts, state.UpdatedAt)
	return pkgerrors.Wrap(err, "put polling state")
}

// ListByOperation returns all polling states of an operation
func (r *PostgresPollingStateRepository) ListByOperation(ctx context.Context, operationID string) ([]*types.PollingState, error) {
	query := `SELECT ` + pollingStateColumns + ` FROM copy_polling_states WHERE operation_id = $1 ORDER BY source_id`

	rows, err := r.db.QueryContext(ctx, query, operationID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list polling states")
	}
	defer rows.Close()

	var states []*types.PollingState
	for rows.Next() {
		state, err := scanPollingState(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "scan polling state")
		}
		states = append(states, state)
	}
	return states, pkgerrors.WithStack(rows.Err())
}
