package repository

import (
	"context"
	"database/sql"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
)

// PostgresJobRepository is the Postgres backed job queue
type PostgresJobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *sql.DB) *PostgresJobRepository {
	return &PostgresJobRepository{db: db}
}

const jobColumns = `id, kind, operation_id, unique_key, payload, status, executions, retries,
	run_at, locked_until, last_error, result, created_at, updated_at, finished_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*types.Job, error) {
	job := &types.Job{}
	var payload, result []byte
	var lockedUntil, finishedAt sql.NullTime
	if err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.OperationID,
		&job.UniqueKey,
		&payload,
		&job.Status,
		&job.Executions,
		&job.Retries,
		&job.RunAt,
		&lockedUntil,
		&job.LastError,
		&result,
		&job.CreatedAt,
		&job.UpdatedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	job.Payload = payload
	job.Result = result
	if lockedUntil.Valid {
		job.LockedUntil = &lockedUntil.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	return job, nil
}

func queryJobs(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]*types.Job, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Create inserts a job. The partial unique index on live unique keys makes
// the insert a no-op when an equivalent job is already queued or running.
func (r *PostgresJobRepository) Create(ctx context.Context, job *types.Job) (*types.Job, bool, error) {
	query := `
		INSERT INTO jobs (id, kind, operation_id, unique_key, payload, status, executions, retries,
		                  run_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, '', $8, $8)
		ON CONFLICT (unique_key) WHERE status IN ('queued', 'running') AND unique_key <> '' DO NOTHING
		RETURNING ` + jobColumns

	stored, err := scanJob(r.db.QueryRowContext(ctx, query,
		job.ID, job.Kind, job.OperationID, job.UniqueKey, []byte(job.Payload),
		string(job.Status), job.RunAt, job.CreatedAt))
	if err == nil {
		return stored, true, nil
	}
	if !pkgerrors.Is(err, sql.ErrNoRows) {
		return nil, false, pkgerrors.Wrap(err, "create job")
	}

	existing := `SELECT ` + jobColumns + ` FROM jobs
		WHERE unique_key = $1 AND status IN ('queued', 'running')`
	stored, err = scanJob(r.db.QueryRowContext(ctx, existing, job.UniqueKey))
	if err != nil {
		return nil, false, notFound(err, "live job vanished", "load live job")
	}
	return stored, false, nil
}

// Get retrieves a job by id
func (r *PostgresJobRepository) Get(ctx context.Context, id string) (*types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "job not found", "get job")
	}
	return job, nil
}

// ClaimDue marks due jobs as running. SKIP LOCKED lets several workers
// claim concurrently without handing out the same job twice. A running job
// whose lease ran out belongs to a worker that died and is claimed again.
func (r *PostgresJobRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*types.Job, error) {
	query := `
		UPDATE jobs SET status = 'running', executions = executions + 1,
		                locked_until = $2, updated_at = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE (status = 'queued' AND run_at <= $1)
			   OR (status = 'running' AND locked_until < $1)
			ORDER BY run_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	jobs, err := queryJobs(ctx, r.db, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "claim due jobs")
	}
	return jobs, nil
}

// Update persists the mutable fields of a job. The executions guard drops
// the outcome of a claim whose lease expired and was handed out again.
func (r *PostgresJobRepository) Update(ctx context.Context, job *types.Job) error {
	query := `
		UPDATE jobs SET status = $2, retries = $4, run_at = $5, locked_until = $6,
		                last_error = $7, result = $8, updated_at = $9, finished_at = $10
		WHERE id = $1 AND executions = $3
	`

	var result interface{}
	if len(job.Result) > 0 {
		result = []byte(job.Result)
	}
	var lockedUntil interface{}
	if job.LockedUntil != nil {
		lockedUntil = *job.LockedUntil
	}
	var finishedAt interface{}
	if job.FinishedAt != nil {
		finishedAt = *job.FinishedAt
	}

	res, err := r.db.ExecContext(ctx, query,
		job.ID, string(job.Status), job.Executions, job.Retries, job.RunAt, lockedUntil,
		job.LastError, result, job.UpdatedAt, finishedAt)
	if err != nil {
		return pkgerrors.Wrapf(err, "update job %s", job.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, job.ID).Scan(&exists); err != nil {
			return pkgerrors.Wrapf(err, "update job %s", job.ID)
		}
		if !exists {
			return errors.NewNotFoundError("job not found")
		}
		return errors.NewConflictError("job was claimed again").WithDetails("job_id", job.ID)
	}
	return nil
}

// CountByStatus returns how many jobs are in each status
func (r *PostgresJobRepository) CountByStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "count jobs")
	}
	defer rows.Close()

	counts := make(map[types.JobStatus]int)
	for rows.Next() {
		var status types.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, pkgerrors.Wrap(err, "count jobs")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListByOperation returns the jobs of an operation in creation order
func (r *PostgresJobRepository) ListByOperation(ctx context.Context, operationID string) ([]*types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE operation_id = $1 ORDER BY created_at, id`

	jobs, err := queryJobs(ctx, r.db, query, operationID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list jobs")
	}
	return jobs, nil
}
