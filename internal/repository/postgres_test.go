package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func TestProjectStorageRepository_Get(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM project_storages ps")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "project_id", "project_name", "storage_id", "project_folder_id", "project_folder_mode", "created_at", "updated_at",
			"id", "name", "provider", "host", "drive_id", "tenant_id", "client_id", "client_secret", "username", "password", "project_folder_root", "created_at",
		}).AddRow(
			7, 11, "Demo", 3, "folder-1", "automatic", now, now,
			3, "od", "one_drive", "", "drive-1", "tenant", "client", "secret", "", "", "OpenProject", now,
		))

	ps, err := NewProjectStorageRepository(db).Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, types.FolderModeAutomatic, ps.ProjectFolderMode)
	assert.Equal(t, "folder-1", ps.ProjectFolderID)
	assert.Equal(t, types.ProviderOneDrive, ps.Storage.Provider)
	assert.Equal(t, "/OpenProject/Demo (11)/", ps.ManagedFolderPath())
}

func TestProjectStorageRepository_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM project_storages ps")).
		WithArgs(int64(8)).
		WillReturnError(sql.ErrNoRows)

	_, err := NewProjectStorageRepository(db).Get(context.Background(), 8)
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
}

func TestProjectStorageRepository_UpdateFolderMissing(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE project_storages")).
		WithArgs(int64(9), "new-id", "manual", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := NewProjectStorageRepository(db).UpdateFolder(context.Background(), 9, "new-id", types.FolderModeManual)
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
}

func TestFileLinkRepository_ListByContainers(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM file_links")).
		WithArgs("WorkPackage", pq.Array([]int64{1, 2})).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "storage_id", "container_id", "container_type", "creator_id",
			"origin_id", "origin_name", "origin_mime_type", "created_at", "updated_at",
		}).
			AddRow(1, 3, 1, "WorkPackage", 5, "abc", "file.txt", "text/plain", now, now).
			AddRow(2, 3, 2, "WorkPackage", 5, nil, "lost.txt", "", now, now))

	links, err := NewFileLinkRepository(db).ListByContainers(context.Background(), types.ContainerTypeWorkPackage, []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "abc", links[0].OriginID)
	assert.Empty(t, links[1].OriginID)
}

func TestFileLinkRepository_CreateStoresNullOrigin(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO file_links")).
		WithArgs(int64(3), int64(20), "WorkPackage", int64(5), sql.NullString{}, "file.txt", "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(42, now, now))

	created, err := NewFileLinkRepository(db).Create(context.Background(), &types.FileLink{
		StorageID: 3, ContainerID: 20, ContainerType: "WorkPackage", CreatorID: 5, OriginName: "file.txt",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 42, created.ID)
}

func TestPollingStateRepository_GetAbsent(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM copy_polling_states")).
		WithArgs("op-1", int64(4)).
		WillReturnError(sql.ErrNoRows)

	state, err := NewPollingStateRepository(db).Get(context.Background(), "op-1", 4)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestPollingStateRepository_Put(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (operation_id, source_id) DO UPDATE")).
		WithArgs("op-1", int64(4), "ongoing", "https://monitor/1", "", 1, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewPollingStateRepository(db).Put(context.Background(), &types.PollingState{
		OperationID: "op-1", SourceID: 4, Phase: types.PollingOngoing,
		PollingURL: "https://monitor/1", Attempts: 1, UpdatedAt: now,
	})
	assert.NoError(t, err)
}

func jobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "kind", "operation_id", "unique_key", "payload", "status", "executions", "retries",
		"run_at", "locked_until", "last_error", "result", "created_at", "updated_at", "finished_at",
	})
}

func TestJobRepository_CreateReturnsLiveDuplicate(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jobs")).
		WillReturnRows(jobRows())
	mock.ExpectQuery(regexp.QuoteMeta("WHERE unique_key = $1 AND status IN ('queued', 'running')")).
		WithArgs("copy_project_folders:op-1:4").
		WillReturnRows(jobRows().AddRow(
			"job-1", "storages.copy_project_folders", "op-1", "copy_project_folders:op-1:4", []byte(`{}`),
			"queued", 1, 1, now, nil, "polling required", nil, now, now, nil))

	stored, created, err := NewJobRepository(db).Create(context.Background(), &types.Job{
		ID: "job-2", Kind: "storages.copy_project_folders", OperationID: "op-1",
		UniqueKey: "copy_project_folders:op-1:4", Payload: []byte(`{}`),
		Status: types.JobStatusQueued, RunAt: now, CreatedAt: now,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "job-1", stored.ID)
	assert.Nil(t, stored.FinishedAt)
}

func TestJobRepository_ClaimDue(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()
	lease := now.Add(5 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("OR (status = 'running' AND locked_until < $1)")).
		WithArgs(now, lease, 5).
		WillReturnRows(jobRows().AddRow(
			"job-1", "storages.copy_project_folders", "op-1", "k", []byte(`{"source_id":4}`),
			"running", 2, 1, now, lease, "", nil, now, now, nil))

	jobs, err := NewJobRepository(db).ClaimDue(context.Background(), now, 5*time.Minute, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.JobStatusRunning, jobs[0].Status)
	require.NotNil(t, jobs[0].LockedUntil)
	assert.True(t, lease.Equal(*jobs[0].LockedUntil))
	assert.JSONEq(t, `{"source_id":4}`, string(jobs[0].Payload))
}

func TestJobRepository_UpdateAfterReclaim(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND executions = $3")).
		WithArgs("job-1", "succeeded", 1, 0, now, nil, "", nil, now, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := NewJobRepository(db).Update(context.Background(), &types.Job{
		ID: "job-1", Status: types.JobStatusSucceeded, Executions: 1,
		RunAt: now, UpdatedAt: now, FinishedAt: &now,
	})
	assert.True(t, errors.HasCode(err, errors.ErrConflict))
}

func TestJobRepository_CountByStatus(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM jobs GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("queued", 3).
			AddRow("running", 1))

	counts, err := NewJobRepository(db).CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[types.JobStatusQueued])
	assert.Equal(t, 1, counts[types.JobStatusRunning])
	assert.Zero(t, counts[types.JobStatusFailed])
}

func TestCopyOperationRepository_RecordJobFinished(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE copy_operations SET")).
		WithArgs("op-1", 0, 1, now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "source_project_id", "target_project_id", "status",
			"total_jobs", "succeeded_jobs", "failed_jobs", "created_at", "updated_at", "finished_at",
		}).AddRow("op-1", 5, 1, 2, "failed", 2, 1, 1, now, now, now))

	op, err := NewCopyOperationRepository(db).RecordJobFinished(context.Background(), "op-1", false, now)
	require.NoError(t, err)
	assert.Equal(t, types.OperationStatusFailed, op.Status)
	require.NotNil(t, op.FinishedAt)
}
