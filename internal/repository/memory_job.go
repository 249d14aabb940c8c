package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
)

// MemoryJobRepository is an in-memory job queue
type MemoryJobRepository struct {
	jobs map[string]*types.Job
	mu   sync.Mutex
}

// NewMemoryJobRepository creates a new job repository
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		jobs: make(map[string]*types.Job),
	}
}

func cloneJob(job *types.Job) *types.Job {
	copied := *job
	if job.LockedUntil != nil {
		locked := *job.LockedUntil
		copied.LockedUntil = &locked
	}
	if job.FinishedAt != nil {
		finished := *job.FinishedAt
		copied.FinishedAt = &finished
	}
	return &copied
}

// Create creates a new job unless a live job with the same unique key exists
func (r *MemoryJobRepository) Create(ctx context.Context, job *types.Job) (*types.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return nil, false, errors.NewConflictError("job already exists")
	}

	if job.UniqueKey != "" {
		for _, existing := range r.jobs {
			if existing.UniqueKey == job.UniqueKey && !existing.Status.Terminal() {
				return cloneJob(existing), false, nil
			}
		}
	}

	stored := cloneJob(job)
	stored.UpdatedAt = stored.CreatedAt
	r.jobs[job.ID] = stored
	return cloneJob(stored), true, nil
}

// Get retrieves a job by ID
func (r *MemoryJobRepository) Get(ctx context.Context, id string) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return nil, errors.NewNotFoundError("job not found")
	}

	return cloneJob(job), nil
}

// ClaimDue marks up to limit due jobs as running, oldest run_at first.
// Running jobs whose lease expired are due again.
func (r *MemoryJobRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*types.Job
	for _, job := range r.jobs {
		switch {
		case job.Status == types.JobStatusQueued && !job.RunAt.After(now):
			due = append(due, job)
		case job.Status == types.JobStatusRunning && job.LockedUntil != nil && job.LockedUntil.Before(now):
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].RunAt.Equal(due[j].RunAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].RunAt.Before(due[j].RunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	lockedUntil := now.Add(lease)
	claimed := make([]*types.Job, 0, len(due))
	for _, job := range due {
		job.Status = types.JobStatusRunning
		job.Executions++
		job.LockedUntil = &lockedUntil
		job.UpdatedAt = now
		claimed = append(claimed, cloneJob(job))
	}
	return claimed, nil
}

// Update updates a job
func (r *MemoryJobRepository) Update(ctx context.Context, job *types.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.jobs[job.ID]
	if !exists {
		return errors.NewNotFoundError("job not found")
	}
	if stored.Executions != job.Executions {
		return errors.NewConflictError("job was claimed again").WithDetails("job_id", job.ID)
	}

	r.jobs[job.ID] = cloneJob(job)
	return nil
}

// CountByStatus returns how many jobs are in each status
func (r *MemoryJobRepository) CountByStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[types.JobStatus]int)
	for _, job := range r.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// ListByOperation returns the jobs of an operation in creation order
func (r *MemoryJobRepository) ListByOperation(ctx context.Context, operationID string) ([]*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs []*types.Job
	for _, job := range r.jobs {
		if job.OperationID == operationID {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}
