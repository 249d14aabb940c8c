package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
)

func newJob(id, key string, runAt time.Time) *types.Job {
	return &types.Job{
		ID: id, Kind: "test", OperationID: "op-1", UniqueKey: key,
		Status: types.JobStatusQueued, RunAt: runAt, CreatedAt: runAt,
	}
}

func TestMemoryJobRepository_UniqueKeySingleFlight(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRepository()
	now := time.Now()

	first, created, err := repo.Create(ctx, newJob("a", "key", now))
	require.NoError(t, err)
	assert.True(t, created)

	dup, created, err := repo.Create(ctx, newJob("b", "key", now))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, dup.ID)

	first.Status = types.JobStatusSucceeded
	require.NoError(t, repo.Update(ctx, first))

	_, created, err = repo.Create(ctx, newJob("c", "key", now))
	require.NoError(t, err)
	assert.True(t, created, "terminal jobs do not block the key")
}

func TestMemoryJobRepository_ClaimDue(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRepository()
	now := time.Now()

	_, _, _ = repo.Create(ctx, newJob("late", "", now.Add(time.Minute)))
	_, _, _ = repo.Create(ctx, newJob("due", "", now.Add(-time.Second)))

	claimed, err := repo.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "due", claimed[0].ID)
	assert.Equal(t, 1, claimed[0].Executions)

	again, err := repo.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "running jobs are not claimed twice")
}

func TestMemoryJobRepository_ReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRepository()
	now := time.Now()

	_, _, err := repo.Create(ctx, newJob("abandoned", "key", now))
	require.NoError(t, err)

	first, err := repo.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	within, err := repo.ClaimDue(ctx, now.Add(30*time.Second), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, within, "lease still held")

	second, err := repo.ClaimDue(ctx, now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "abandoned", second[0].ID)
	assert.Equal(t, 2, second[0].Executions)

	// the first claim's late outcome must not overwrite the second
	first[0].Status = types.JobStatusSucceeded
	err = repo.Update(ctx, first[0])
	assert.True(t, errors.HasCode(err, errors.ErrConflict))

	second[0].Status = types.JobStatusSucceeded
	second[0].LockedUntil = nil
	require.NoError(t, repo.Update(ctx, second[0]))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[types.JobStatus]int{types.JobStatusSucceeded: 1}, counts)
}

func TestMemoryCopyOperationRepository_RecordJobFinished(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCopyOperationRepository()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, &types.CopyOperation{
		ID: "op", Status: types.OperationStatusPending, TotalJobs: 2, CreatedAt: now,
	}))

	op, err := repo.RecordJobFinished(ctx, "op", true, now)
	require.NoError(t, err)
	assert.Equal(t, types.OperationStatusPending, op.Status)
	assert.Nil(t, op.FinishedAt)

	op, err = repo.RecordJobFinished(ctx, "op", true, now)
	require.NoError(t, err)
	assert.Equal(t, types.OperationStatusCompleted, op.Status)
	assert.NotNil(t, op.FinishedAt)
}

func TestMemoryPollingStateRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPollingStateRepository()

	state, err := repo.Get(ctx, "op", 1)
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, repo.Put(ctx, &types.PollingState{OperationID: "op", SourceID: 2, Phase: types.PollingOngoing}))
	require.NoError(t, repo.Put(ctx, &types.PollingState{OperationID: "op", SourceID: 1, Phase: types.PollingCompleted, ResourceID: "R"}))
	require.NoError(t, repo.Put(ctx, &types.PollingState{OperationID: "other", SourceID: 1}))

	states, err := repo.ListByOperation(ctx, "op")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.EqualValues(t, 1, states[0].SourceID)
	assert.Equal(t, "R", states[0].ResourceID)
}
