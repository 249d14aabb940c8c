// Package repository persists storages, file links, copy operations, their
// polling state and the job queue. Every repository has a Postgres and an
// in-memory implementation.
package repository

import (
	"context"
	"database/sql"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
)

// ProjectStorageRepository loads and updates project storages
type ProjectStorageRepository interface {
	// Get returns the project storage with its Storage populated
	Get(ctx context.Context, id int64) (*types.ProjectStorage, error)
	UpdateFolder(ctx context.Context, id int64, folderID string, mode types.FolderMode) (*types.ProjectStorage, error)
}

// FileLinkRepository reads and creates file links
type FileLinkRepository interface {
	ListByContainers(ctx context.Context, containerType string, containerIDs []int64) ([]*types.FileLink, error)
	Create(ctx context.Context, link *types.FileLink) (*types.FileLink, error)
}

// CopyOperationRepository stores copy operations
type CopyOperationRepository interface {
	Create(ctx context.Context, op *types.CopyOperation) error
	Get(ctx context.Context, id string) (*types.CopyOperation, error)
	// RecordJobFinished counts one terminal child job and, once all children
	// are terminal, settles the operation status.
	RecordJobFinished(ctx context.Context, id string, succeeded bool, at time.Time) (*types.CopyOperation, error)
}

// PollingStateRepository stores the durable polling state per source
type PollingStateRepository interface {
	// Get returns nil without error when no state exists
	Get(ctx context.Context, operationID string, sourceID int64) (*types.PollingState, error)
	Put(ctx context.Context, state *types.PollingState) error
	ListByOperation(ctx context.Context, operationID string) ([]*types.PollingState, error)
}

// JobRepository is the durable job queue
type JobRepository interface {
	// Create inserts job unless a queued or running job with the same unique
	// key exists, in which case that job is returned with created == false.
	Create(ctx context.Context, job *types.Job) (stored *types.Job, created bool, err error)
	Get(ctx context.Context, id string) (*types.Job, error)
	// ClaimDue marks up to limit due jobs as running and leases them until
	// now+lease. Running jobs whose lease expired count as due.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*types.Job, error)
	// Update persists the outcome of the claim identified by job.Executions.
	// It fails with CONFLICT once the job has been claimed again.
	Update(ctx context.Context, job *types.Job) error
	CountByStatus(ctx context.Context) (map[types.JobStatus]int, error)
	ListByOperation(ctx context.Context, operationID string) ([]*types.Job, error)
}

// Repositories bundles every repository the service needs
type Repositories struct {
	ProjectStorages ProjectStorageRepository
	FileLinks       FileLinkRepository
	Operations      CopyOperationRepository
	PollingStates   PollingStateRepository
	Jobs            JobRepository
}

// NewPostgres returns Postgres backed repositories
func NewPostgres(db *sql.DB) *Repositories {
	return &Repositories{
		ProjectStorages: NewProjectStorageRepository(db),
		FileLinks:       NewFileLinkRepository(db),
		Operations:      NewCopyOperationRepository(db),
		PollingStates:   NewPollingStateRepository(db),
		Jobs:            NewJobRepository(db),
	}
}

// NewMemory returns in-memory repositories
func NewMemory() *Repositories {
	return &Repositories{
		ProjectStorages: NewMemoryProjectStorageRepository(),
		FileLinks:       NewMemoryFileLinkRepository(),
		Operations:      NewMemoryCopyOperationRepository(),
		PollingStates:   NewMemoryPollingStateRepository(),
		Jobs:            NewMemoryJobRepository(),
	}
}

// notFound converts sql.ErrNoRows into a NOT_FOUND AppError and wraps
// everything else with the failing action.
func notFound(err error, message, action string) error {
	if pkgerrors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError(message)
	}
	return pkgerrors.Wrap(err, action)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
