package copyjob

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/core/scheduler"
	"github.com/xuecangming/folder-copy/internal/infrastructure/monitor"
	"github.com/xuecangming/folder-copy/internal/peripherals"
	"github.com/xuecangming/folder-copy/internal/repository"
	"github.com/xuecangming/folder-copy/internal/service/filelink"
	"github.com/xuecangming/folder-copy/internal/service/projectfolder"
	"github.com/xuecangming/folder-copy/internal/service/projectstorage"
)

const operationID = "op-1"

type harness struct {
	projectStorages *repository.MemoryProjectStorageRepository
	links           *repository.MemoryFileLinkRepository
	states          *repository.MemoryPollingStateRepository
	operations      *repository.MemoryCopyOperationRepository

	copyCalls    atomic.Int32
	monitorCalls atomic.Int32
	listedFolder atomic.Value
	copyErr      error
	monitor      []string

	server *httptest.Server
	job    *Job
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		projectStorages: repository.NewMemoryProjectStorageRepository(),
		links:           repository.NewMemoryFileLinkRepository(),
		states:          repository.NewMemoryPollingStateRepository(),
		operations:      repository.NewMemoryCopyOperationRepository(),
		monitor: []string{
			`{"operation":"ItemCopy","percentageComplete":27.8,"status":"inProgress"}`,
			`{"percentageComplete":100.0,"resourceId":"R","status":"completed"}`,
		},
	}

	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(h.monitorCalls.Add(1)) - 1
		if n >= len(h.monitor) {
			n = len(h.monitor) - 1
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(h.monitor[n]))
	}))
	t.Cleanup(h.server.Close)

	registry := peripherals.NewRegistry()
	registry.Register(types.ProviderOneDrive, peripherals.Provider{
		CopyFolder: peripherals.CopyFolderFunc(func(ctx context.Context, storage *types.Storage, src, dst string) (*types.CopyFolderResult, error) {
			h.copyCalls.Add(1)
			if h.copyErr != nil {
				return nil, h.copyErr
			}
			return &types.CopyFolderResult{PollingURL: h.server.URL + "/monitor/1"}, nil
		}),
		FolderFiles: peripherals.FolderFilesFunc(func(ctx context.Context, storage *types.Storage, folder types.ParentFolder) (map[string]string, error) {
			h.listedFolder.Store(folder.Location)
			return map[string]string{"/OpenProject/Copy (2)/file.txt": "NEWID"}, nil
		}),
		FilesInfo: peripherals.FilesInfoFunc(func(ctx context.Context, storage *types.Storage, userID int64, ids []string) ([]types.StorageFileInfo, error) {
			infos := make([]types.StorageFileInfo, 0, len(ids))
			for _, id := range ids {
				infos = append(infos, types.StorageFileInfo{ID: id, Location: "/OpenProject/Demo (1)/file.txt", StatusCode: 200})
			}
			return infos, nil
		}),
	})

	storage := &types.Storage{ID: 1, Name: "onedrive", Provider: types.ProviderOneDrive, ProjectFolderRoot: "OpenProject"}
	h.projectStorages.Put(&types.ProjectStorage{
		ID: 10, ProjectID: 1, ProjectName: "Demo", StorageID: 1, Storage: storage,
		ProjectFolderID: "src-folder", ProjectFolderMode: types.FolderModeAutomatic,
	})
	h.projectStorages.Put(&types.ProjectStorage{
		ID: 20, ProjectID: 2, ProjectName: "Copy", StorageID: 1, Storage: storage,
		ProjectFolderMode: types.FolderModeInactive,
	})
	require.NoError(t, h.operations.Create(context.Background(), &types.CopyOperation{
		ID: operationID, UserID: 7, Status: types.OperationStatusPending, TotalJobs: 1, CreatedAt: time.Now(),
	}))

	for i := int64(1); i <= 4; i++ {
		h.links.Create(context.Background(), &types.FileLink{
			StorageID: 1, ContainerID: i, ContainerType: types.ContainerTypeWorkPackage,
			CreatorID: 1, OriginID: "OLDID", OriginName: "file.txt",
		})
	}

	log := logger.Nop()
	h.job = New(Dependencies{
		ProjectStorages: h.projectStorages,
		Operations:      h.operations,
		PollingStates:   h.states,
		Folders:         projectfolder.NewService(registry, log),
		Updater:         projectstorage.NewUpdateService(h.projectStorages, log),
		FileLinks:       filelink.NewService(h.links, registry, log),
		Poller:          monitor.NewPoller(time.Second, log),
		Logger:          log,
	})
	return h
}

func payload(t *testing.T) json.RawMessage {
	wpMap := types.WorkPackageMap{}
	for i := int64(1); i <= 4; i++ {
		wpMap[strconv.FormatInt(i, 10)] = float64(100 + i)
	}
	raw, err := json.Marshal(Args{OperationID: operationID, SourceID: 10, TargetID: 20, UserID: 7, WorkPackagesMap: wpMap})
	require.NoError(t, err)
	return raw
}

func (h *harness) state(t *testing.T) *types.PollingState {
	state, err := h.states.Get(context.Background(), operationID, 10)
	require.NoError(t, err)
	return state
}

func TestPerform_PollsUntilCompletedAndCopiesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := &types.Job{ID: "job-1", Kind: Kind, Payload: payload(t)}

	_, err := h.job.Perform(ctx, job)
	assert.True(t, errors.IsPollingRequired(err), "got %v", err)
	require.NotNil(t, h.state(t))
	assert.Equal(t, types.PollingOngoing, h.state(t).Phase)
	assert.Equal(t, h.server.URL+"/monitor/1", h.state(t).PollingURL)
	assert.Zero(t, h.monitorCalls.Load())

	_, err = h.job.Perform(ctx, job)
	assert.True(t, errors.IsPollingRequired(err), "got %v", err)
	assert.Equal(t, types.PollingOngoing, h.state(t).Phase)
	assert.Equal(t, 1, h.state(t).Attempts)

	res, err := h.job.Perform(ctx, job)
	require.NoError(t, err)
	assert.EqualValues(t, 1, h.copyCalls.Load(), "copy initiated exactly once across executions")
	assert.EqualValues(t, 2, h.monitorCalls.Load())

	assert.Equal(t, types.PollingCompleted, h.state(t).Phase)
	assert.Equal(t, "R", h.state(t).ResourceID)

	target, _ := h.projectStorages.Get(ctx, 20)
	assert.Equal(t, "R", target.ProjectFolderID)
	assert.Equal(t, types.FolderModeAutomatic, target.ProjectFolderMode)
	assert.Equal(t, "R", h.listedFolder.Load(), "listing uses the updated target folder")

	for i := int64(101); i <= 104; i++ {
		links := h.links.ByContainer(i)
		require.Len(t, links, 1)
		assert.Equal(t, "NEWID", links[0].OriginID)
		assert.EqualValues(t, 7, links[0].CreatorID)
	}

	summary := res.(*Result)
	assert.Equal(t, 4, summary.FileLinks)
	assert.Zero(t, summary.FailedFileLinks)
}

func TestPerform_CompletedStateSkipsRemoteCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.states.Put(ctx, &types.PollingState{
		OperationID: operationID, SourceID: 10, Phase: types.PollingCompleted, ResourceID: "R",
	}))

	_, err := h.job.Perform(ctx, &types.Job{ID: "job-1", Payload: payload(t)})
	require.NoError(t, err)
	assert.Zero(t, h.copyCalls.Load())
	assert.Zero(t, h.monitorCalls.Load())

	target, _ := h.projectStorages.Get(ctx, 20)
	assert.Equal(t, "R", target.ProjectFolderID)
}

func TestPerform_ProviderReportsFailure(t *testing.T) {
	h := newHarness(t)
	h.monitor = []string{`{"status":"failed"}`}
	ctx := context.Background()
	job := &types.Job{ID: "job-1", Payload: payload(t)}

	_, err := h.job.Perform(ctx, job)
	require.True(t, errors.IsPollingRequired(err))

	_, err = h.job.Perform(ctx, job)
	assert.True(t, errors.HasCode(err, errors.ErrProvider))
	assert.Equal(t, types.PollingFailed, h.state(t).Phase)

	_, err = h.job.Perform(ctx, job)
	assert.True(t, errors.HasCode(err, errors.ErrProvider))
	assert.EqualValues(t, 1, h.monitorCalls.Load(), "a failed copy is not polled again")
	assert.EqualValues(t, 1, h.copyCalls.Load())
}

func TestPerform_UpdateFailureSkipsFileLinks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	source, _ := h.projectStorages.Get(ctx, 10)
	source.ProjectFolderMode = types.FolderModeManual
	source.ProjectFolderID = ""
	h.projectStorages.Put(source)

	_, err := h.job.Perform(ctx, &types.Job{ID: "job-1", Payload: payload(t)})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
	assert.Zero(t, h.copyCalls.Load())
	assert.Empty(t, h.links.ByContainer(101))
}

func TestPerform_TransportFailureIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.copyErr = errors.Discard(stderrors.New("connection reset by peer"))

	_, err := h.job.Perform(context.Background(), &types.Job{ID: "job-1", Payload: payload(t)})
	assert.True(t, errors.IsDiscard(err))
	assert.Nil(t, h.state(t), "nothing persisted for a copy that never started")

	policy := Policy(0)
	_, retry := policy.RetryOn(err)
	assert.False(t, retry)
	assert.True(t, policy.DiscardOn(err))
}

func TestPolicy(t *testing.T) {
	policy := Policy(5 * time.Second)

	wait, retry := policy.RetryOn(errors.PollingRequired("x"))
	assert.True(t, retry)
	assert.Equal(t, 5*time.Second, wait)
	assert.Zero(t, policy.MaxRetries, "polling is retried without limit")

	_, retry = policy.RetryOn(errors.NewConflictError("exists"))
	assert.False(t, retry)

	assert.Equal(t, "copy_project_folders:op-1:10", UniqueKey("op-1", 10))
}

func TestJob_ThroughScheduler(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	jobs := repository.NewMemoryJobRepository()
	runner := scheduler.NewRunner(jobs, scheduler.Options{Clock: func() time.Time { return now }, Logger: logger.Nop()})
	runner.Register(Kind, h.job, Policy(DefaultPollingBackoff))

	var args Args
	require.NoError(t, json.Unmarshal(payload(t), &args))
	queued, _, err := runner.Enqueue(ctx, scheduler.EnqueueRequest{
		Kind: Kind, OperationID: operationID, UniqueKey: UniqueKey(operationID, 10), Payload: args,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := runner.RunDue(ctx)
		require.NoError(t, err)
		now = now.Add(DefaultPollingBackoff)
	}

	stored, err := jobs.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSucceeded, stored.Status)
	assert.Equal(t, 3, stored.Executions)
	assert.Equal(t, 2, stored.Retries)
	assert.EqualValues(t, 1, h.copyCalls.Load())
}
