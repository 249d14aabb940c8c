package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
)

// MemoryProjectStorageRepository keeps project storages in memory
type MemoryProjectStorageRepository struct {
	items map[int64]*types.ProjectStorage
	mu    sync.RWMutex
}

// NewMemoryProjectStorageRepository creates an empty repository
func NewMemoryProjectStorageRepository() *MemoryProjectStorageRepository {
	return &MemoryProjectStorageRepository{
		items: make(map[int64]*types.ProjectStorage),
	}
}

// Put stores ps, replacing any project storage with the same id
func (r *MemoryProjectStorageRepository) Put(ps *types.ProjectStorage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *ps
	r.items[ps.ID] = &stored
}

// Get retrieves a project storage by id
func (r *MemoryProjectStorageRepository) Get(ctx context.Context, id int64) (*types.ProjectStorage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ps, exists := r.items[id]
	if !exists {
		return nil, errors.NewNotFoundError("project storage not found")
	}

	copied := *ps
	return &copied, nil
}

// UpdateFolder sets the project folder id and mode
func (r *MemoryProjectStorageRepository) UpdateFolder(ctx context.Context, id int64, folderID string, mode types.FolderMode) (*types.ProjectStorage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps, exists := r.items[id]
	if !exists {
		return nil, errors.NewNotFoundError("project storage not found")
	}

	ps.ProjectFolderID = folderID
	ps.ProjectFolderMode = mode
	ps.UpdatedAt = time.Now()

	copied := *ps
	return &copied, nil
}

// MemoryFileLinkRepository keeps file links in memory
type MemoryFileLinkRepository struct {
	links  []*types.FileLink
	nextID int64
	mu     sync.RWMutex

	// FailCreate, when set, is consulted before every Create
	FailCreate func(link *types.FileLink) error
}

// NewMemoryFileLinkRepository creates an empty repository
func NewMemoryFileLinkRepository() *MemoryFileLinkRepository {
	return &MemoryFileLinkRepository{nextID: 1}
}

// ListByContainers returns the links of all given containers, ordered by id
func (r *MemoryFileLinkRepository) ListByContainers(ctx context.Context, containerType string, containerIDs []int64) ([]*types.FileLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[int64]bool, len(containerIDs))
	for _, id := range containerIDs {
		wanted[id] = true
	}

	var links []*types.FileLink
	for _, l := range r.links {
		if l.ContainerType == containerType && wanted[l.ContainerID] {
			copied := *l
			links = append(links, &copied)
		}
	}
	return links, nil
}

// Create stores a new link and assigns its id
func (r *MemoryFileLinkRepository) Create(ctx context.Context, link *types.FileLink) (*types.FileLink, error) {
	if r.FailCreate != nil {
		if err := r.FailCreate(link); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	stored := *link
	stored.ID = r.nextID
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.nextID++
	r.links = append(r.links, &stored)

	created := stored
	return &created, nil
}

// ByContainer returns all links of one work package container
func (r *MemoryFileLinkRepository) ByContainer(containerID int64) []*types.FileLink {
	links, _ := r.ListByContainers(context.Background(), types.ContainerTypeWorkPackage, []int64{containerID})
	return links
}

// MemoryCopyOperationRepository keeps copy operations in memory
type MemoryCopyOperationRepository struct {
	ops map[string]*types.CopyOperation
	mu  sync.Mutex
}

// NewMemoryCopyOperationRepository creates an empty repository
func NewMemoryCopyOperationRepository() *MemoryCopyOperationRepository {
	return &MemoryCopyOperationRepository{
		ops: make(map[string]*types.CopyOperation),
	}
}

// Create stores a new copy operation
func (r *MemoryCopyOperationRepository) Create(ctx context.Context, op *types.CopyOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[op.ID]; exists {
		return errors.NewConflictError("copy operation already exists")
	}

	stored := *op
	stored.UpdatedAt = stored.CreatedAt
	r.ops[op.ID] = &stored
	return nil
}

// Get retrieves a copy operation by id
func (r *MemoryCopyOperationRepository) Get(ctx context.Context, id string) (*types.CopyOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, exists := r.ops[id]
	if !exists {
		return nil, errors.NewNotFoundError("copy operation not found")
	}

	copied := *op
	return &copied, nil
}

// RecordJobFinished counts one terminal child job
func (r *MemoryCopyOperationRepository) RecordJobFinished(ctx context.Context, id string, succeeded bool, at time.Time) (*types.CopyOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, exists := r.ops[id]
	if !exists {
		return nil, errors.NewNotFoundError("copy operation not found")
	}

	if succeeded {
		op.SucceededJobs++
	} else {
		op.FailedJobs++
	}
	op.UpdatedAt = at

	if op.Finished() && op.FinishedAt == nil {
		op.Status = types.OperationStatusCompleted
		if op.FailedJobs > 0 {
			op.Status = types.OperationStatusFailed
		}
		finished := at
		op.FinishedAt = &finished
	}

	copied := *op
	return &copied, nil
}

type pollingKey struct {
	operationID string
	sourceID    int64
}

// MemoryPollingStateRepository keeps polling states in memory
type MemoryPollingStateRepository struct {
	states map[pollingKey]*types.PollingState
	mu     sync.RWMutex
}

// NewMemoryPollingStateRepository creates an empty repository
func NewMemoryPollingStateRepository() *MemoryPollingStateRepository {
	return &MemoryPollingStateRepository{
		states: make(map[pollingKey]*types.PollingState),
	}
}

// Get returns the polling state of a source, or nil when there is none
func (r *MemoryPollingStateRepository) Get(ctx context.Context, operationID string, sourceID int64) (*types.PollingState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, exists := r.states[pollingKey{operationID, sourceID}]
	if !exists {
		return nil, nil
	}

	copied := *state
	return &copied, nil
}

// Put inserts or replaces the polling state of a source
func (r *MemoryPollingStateRepository) Put(ctx context.Context, state *types.PollingState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *state
	r.states[pollingKey{state.OperationID, state.SourceID}] = &stored
	return nil
}

// ListByOperation returns all polling states of an operation
func (r *MemoryPollingStateRepository) ListByOperation(ctx context.Context, operationID string) ([]*types.PollingState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var states []*types.PollingState
	for key, state := range r.states {
		if key.operationID == operationID {
			copied := *state
			states = append(states, &copied)
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].SourceID < states[j].SourceID })
	return states, nil
}
