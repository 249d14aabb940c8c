// Package copyjob implements the background job that copies one project
// folder and then duplicates the file links pointing into it.
//
// A copy the storage performs asynchronously spans several executions. The
// first execution starts the copy and records the monitor URL; each later
// execution polls once. Progress lives in the durable polling state so a
// redelivered job never starts a second copy.
package copyjob

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/core/scheduler"
	"github.com/xuecangming/folder-copy/internal/infrastructure/monitor"
	"github.com/xuecangming/folder-copy/internal/repository"
	"github.com/xuecangming/folder-copy/internal/service/filelink"
)

// Kind is the scheduler job kind
const Kind = "storages.copy_project_folders"

// DefaultPollingBackoff is the wait between two polls of a running copy
const DefaultPollingBackoff = 3 * time.Second

// Args is the job payload
type Args struct {
	OperationID     string               `json:"operation_id"`
	SourceID        int64                `json:"source_id"`
	TargetID        int64                `json:"target_id"`
	UserID          int64                `json:"user_id"`
	WorkPackagesMap types.WorkPackageMap `json:"work_packages_map"`
}

// UniqueKey identifies the single live job allowed per operation and source
func UniqueKey(operationID string, sourceID int64) string {
	return fmt.Sprintf("copy_project_folders:%s:%d", operationID, sourceID)
}

// Result summarises a successful execution
type Result struct {
	ProjectFolderID string             `json:"project_folder_id,omitempty"`
	FileLinks       int                `json:"file_links"`
	FailedFileLinks int                `json:"failed_file_links"`
	Failures        []filelink.Outcome `json:"failures,omitempty"`
}

// FolderCopier starts the project folder copy
type FolderCopier interface {
	Copy(ctx context.Context, source, target *types.ProjectStorage) (*types.CopyResult, error)
}

// FolderUpdater records the copied folder on the target
type FolderUpdater interface {
	UpdateFolder(ctx context.Context, target *types.ProjectStorage, folderID string, mode types.FolderMode) (*types.ProjectStorage, error)
}

// LinkCopier duplicates file links
type LinkCopier interface {
	Copy(ctx context.Context, source, target *types.ProjectStorage, userID int64, workPackages types.WorkPackageMap) ([]filelink.Outcome, error)
}

// Poller reads the progress of an asynchronous copy
type Poller interface {
	Poll(ctx context.Context, url string) (*monitor.Progress, error)
}

// Dependencies wires a Job
type Dependencies struct {
	ProjectStorages repository.ProjectStorageRepository
	Operations      repository.CopyOperationRepository
	PollingStates   repository.PollingStateRepository
	Folders         FolderCopier
	Updater         FolderUpdater
	FileLinks       LinkCopier
	Poller          Poller
	Clock           func() time.Time
	Logger          logger.Logger
}

// Job copies the project folder of one source/target pair
type Job struct {
	deps Dependencies
}

// New creates a new Job
func New(deps Dependencies) *Job {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetGlobalLogger()
	}
	return &Job{deps: deps}
}

// Policy retries PollingRequired forever after backoff and discards jobs
// whose exchange with the storage broke down.
func Policy(backoff time.Duration) scheduler.Policy {
	if backoff <= 0 {
		backoff = DefaultPollingBackoff
	}
	return scheduler.Policy{
		RetryOn: func(err error) (time.Duration, bool) {
			var polling *errors.PollingRequiredError
			if !stderrors.As(err, &polling) {
				return 0, false
			}
			if polling.Wait > 0 {
				return polling.Wait, true
			}
			return backoff, true
		},
		DiscardOn: errors.IsDiscard,
	}
}

// Perform runs one execution of the job
func (j *Job) Perform(ctx context.Context, job *types.Job) (interface{}, error) {
	var args Args
	if err := json.Unmarshal(job.Payload, &args); err != nil {
		return nil, errors.InvalidArgument("malformed copy project folders payload")
	}

	log := logger.WithContext(ctx).With(
		logger.String("operation_id", args.OperationID),
		logger.Int64("source_id", args.SourceID),
		logger.Int64("target_id", args.TargetID))

	if _, err := j.deps.Operations.Get(ctx, args.OperationID); err != nil {
		return nil, err
	}
	source, err := j.deps.ProjectStorages.Get(ctx, args.SourceID)
	if err != nil {
		return nil, err
	}
	target, err := j.deps.ProjectStorages.Get(ctx, args.TargetID)
	if err != nil {
		return nil, err
	}

	result, err := j.resolveCopy(ctx, job, args, source, target)
	if err != nil {
		return nil, err
	}

	updated, err := j.deps.Updater.UpdateFolder(ctx, target, result.ID, source.ProjectFolderMode)
	if err != nil {
		log.Warn("Updating target project folder failed, file links not copied", logger.Error(err))
		return nil, err
	}

	outcomes, err := j.deps.FileLinks.Copy(ctx, source, updated, args.UserID, args.WorkPackagesMap)
	if err != nil {
		return nil, err
	}

	failed := filelink.Failed(outcomes)
	for _, o := range failed {
		log.Warn("File link not copied",
			logger.Int64("file_link_id", o.SourceFileLinkID),
			logger.Int64("target_container_id", o.TargetContainerID),
			logger.Error(o.Err))
	}

	return &Result{
		ProjectFolderID: result.ID,
		FileLinks:       len(outcomes) - len(failed),
		FailedFileLinks: len(failed),
		Failures:        failed,
	}, nil
}

// resolveCopy returns the finished copy result, starting or polling the
// copy as the durable state requires
func (j *Job) resolveCopy(ctx context.Context, job *types.Job, args Args, source, target *types.ProjectStorage) (*types.CopyResult, error) {
	state, err := j.deps.PollingStates.Get(ctx, args.OperationID, args.SourceID)
	if err != nil {
		return nil, err
	}

	if state == nil {
		return j.initiate(ctx, args, source, target)
	}

	switch state.Phase {
	case types.PollingOngoing:
		return j.poll(ctx, job, state)
	case types.PollingCompleted:
		return &types.CopyResult{ID: state.ResourceID}, nil
	default:
		return nil, errors.ProviderError("project folder copy failed on the storage").
			WithDetails("source_id", args.SourceID)
	}
}

func (j *Job) initiate(ctx context.Context, args Args, source, target *types.ProjectStorage) (*types.CopyResult, error) {
	result, err := j.deps.Folders.Copy(ctx, source, target)
	if err != nil {
		return nil, err
	}
	if !result.RequiresPolling {
		return result, nil
	}

	// the copy is already running on the storage; its monitor must be
	// remembered even if this execution is being cancelled
	state := &types.PollingState{
		OperationID: args.OperationID,
		SourceID:    args.SourceID,
		Phase:       types.PollingOngoing,
		PollingURL:  result.PollingURL,
		UpdatedAt:   j.deps.Clock(),
	}
	if err := j.deps.PollingStates.Put(context.WithoutCancel(ctx), state); err != nil {
		return nil, err
	}

	storage := ""
	if source.Storage != nil {
		storage = source.Storage.Name
	}
	return nil, errors.PollingRequired("Storage %s requires polling", storage)
}

func (j *Job) poll(ctx context.Context, job *types.Job, state *types.PollingState) (*types.CopyResult, error) {
	progress, err := j.deps.Poller.Poll(ctx, state.PollingURL)
	if err != nil {
		return nil, err
	}

	state.Attempts++
	state.UpdatedAt = j.deps.Clock()

	switch {
	case progress.Failed():
		state.Phase = types.PollingFailed
		if err := j.deps.PollingStates.Put(context.WithoutCancel(ctx), state); err != nil {
			return nil, err
		}
		return nil, errors.ProviderError("project folder copy failed on the storage")

	case !progress.Completed():
		if err := j.deps.PollingStates.Put(context.WithoutCancel(ctx), state); err != nil {
			return nil, err
		}
		return nil, errors.PollingRequired("%s Polling not completed yet", job.ID)

	case progress.ResourceID == "":
		return nil, errors.ProviderError("completed copy reported no resource id")
	}

	state.Phase = types.PollingCompleted
	state.ResourceID = progress.ResourceID
	if err := j.deps.PollingStates.Put(context.WithoutCancel(ctx), state); err != nil {
		return nil, err
	}
	return &types.CopyResult{ID: progress.ResourceID}, nil
}
