package copyoperation

import (
	"context"
	"time"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/common/utils"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/core/scheduler"
	"github.com/xuecangming/folder-copy/internal/repository"
	"github.com/xuecangming/folder-copy/internal/service/copyjob"
)

// Pair is one source/target project storage to copy
type Pair struct {
	SourceID        int64                `json:"source_id"`
	TargetID        int64                `json:"target_id"`
	WorkPackagesMap types.WorkPackageMap `json:"work_packages_map"`
}

// StartRequest asks for a new copy operation
type StartRequest struct {
	UserID          int64  `json:"user_id"`
	SourceProjectID int64  `json:"source_project_id"`
	TargetProjectID int64  `json:"target_project_id"`
	Pairs           []Pair `json:"pairs"`
}

// Status is the observable state of an operation
type Status struct {
	Operation     *types.CopyOperation  `json:"operation"`
	Jobs          []*types.Job          `json:"jobs"`
	PollingStates []*types.PollingState `json:"polling_states"`
}

// Enqueuer schedules jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, req scheduler.EnqueueRequest) (*types.Job, bool, error)
}

// CompletionCallback is called once when every job of an operation finished
type CompletionCallback func(ctx context.Context, op *types.CopyOperation)

// Service handles copy operation lifecycle
type Service struct {
	ops        repository.CopyOperationRepository
	states     repository.PollingStateRepository
	jobs       repository.JobRepository
	enqueuer   Enqueuer
	onComplete CompletionCallback
	clock      func() time.Time
	logger     logger.Logger
}

// NewService creates a new copy operation service
func NewService(repos *repository.Repositories, enqueuer Enqueuer, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	s := &Service{
		ops:      repos.Operations,
		states:   repos.PollingStates,
		jobs:     repos.Jobs,
		enqueuer: enqueuer,
		clock:    time.Now,
		logger:   log,
	}
	s.onComplete = s.logCompletion
	return s
}

// OnComplete replaces the completion callback
func (s *Service) OnComplete(cb CompletionCallback) {
	if cb != nil {
		s.onComplete = cb
	}
}

// Start creates the operation and enqueues one copy job per pair
func (s *Service) Start(ctx context.Context, req StartRequest) (*types.CopyOperation, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	now := s.clock()
	op := &types.CopyOperation{
		ID:              utils.GenerateID(),
		UserID:          req.UserID,
		SourceProjectID: req.SourceProjectID,
		TargetProjectID: req.TargetProjectID,
		Status:          types.OperationStatusPending,
		TotalJobs:       len(req.Pairs),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.ops.Create(ctx, op); err != nil {
		return nil, err
	}

	for i, pair := range req.Pairs {
		_, _, err := s.enqueuer.Enqueue(ctx, scheduler.EnqueueRequest{
			Kind:        copyjob.Kind,
			OperationID: op.ID,
			UniqueKey:   copyjob.UniqueKey(op.ID, pair.SourceID),
			Payload: copyjob.Args{
				OperationID:     op.ID,
				SourceID:        pair.SourceID,
				TargetID:        pair.TargetID,
				UserID:          req.UserID,
				WorkPackagesMap: pair.WorkPackagesMap,
			},
		})
		if err != nil {
			s.abandon(ctx, op, len(req.Pairs)-i, err)
			return nil, err
		}
	}

	s.logger.Info("Copy operation started",
		logger.String("operation_id", op.ID),
		logger.Int64("user_id", op.UserID),
		logger.Int("jobs", op.TotalJobs))

	return op, nil
}

// abandon counts the pairs that never got a job as failed, so the operation
// still settles once the jobs enqueued before the failure finish.
func (s *Service) abandon(ctx context.Context, op *types.CopyOperation, missing int, cause error) {
	ctx = context.WithoutCancel(ctx)
	s.logger.Error("Enqueueing copy job failed, operation will fail",
		logger.String("operation_id", op.ID),
		logger.Int("missing_jobs", missing),
		logger.Error(cause))

	for n := 0; n < missing; n++ {
		settled, err := s.ops.RecordJobFinished(ctx, op.ID, false, s.clock())
		if err != nil {
			s.logger.Error("Recording unscheduled job failed",
				logger.String("operation_id", op.ID),
				logger.Error(err))
			return
		}
		if settled.SucceededJobs+settled.FailedJobs == settled.TotalJobs {
			s.onComplete(ctx, settled)
		}
	}
}

func validate(req StartRequest) error {
	if req.UserID <= 0 {
		return errors.InvalidArgument("user_id is required")
	}
	if len(req.Pairs) == 0 {
		return errors.InvalidArgument("at least one source/target pair is required")
	}

	sources := make(map[int64]bool, len(req.Pairs))
	for _, pair := range req.Pairs {
		if pair.SourceID <= 0 || pair.TargetID <= 0 {
			return errors.InvalidArgument("source_id and target_id are required")
		}
		if sources[pair.SourceID] {
			return errors.InvalidArgument("source project storage listed twice").WithDetails("source_id", pair.SourceID)
		}
		sources[pair.SourceID] = true

		if _, err := utils.NormalizeWorkPackageMap(pair.WorkPackagesMap); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the operation with its jobs and polling states
func (s *Service) Get(ctx context.Context, id string) (*Status, error) {
	op, err := s.ops.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobs.ListByOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	states, err := s.states.ListByOperation(ctx, id)
	if err != nil {
		return nil, err
	}

	if jobs == nil {
		jobs = []*types.Job{}
	}
	if states == nil {
		states = []*types.PollingState{}
	}
	return &Status{Operation: op, Jobs: jobs, PollingStates: states}, nil
}

// JobFinished is the scheduler hook counting terminal copy jobs
func (s *Service) JobFinished(ctx context.Context, job *types.Job) {
	if job.Kind != copyjob.Kind || job.OperationID == "" {
		return
	}

	op, err := s.ops.RecordJobFinished(ctx, job.OperationID, job.Status == types.JobStatusSucceeded, s.clock())
	if err != nil {
		s.logger.Error("Recording finished job failed",
			logger.String("operation_id", job.OperationID),
			logger.String("job_id", job.ID),
			logger.Error(err))
		return
	}

	// exactly one job observes the counters reach the total
	if op.SucceededJobs+op.FailedJobs == op.TotalJobs {
		s.onComplete(ctx, op)
	}
}

func (s *Service) logCompletion(ctx context.Context, op *types.CopyOperation) {
	s.logger.Info("Copy operation finished",
		logger.String("operation_id", op.ID),
		logger.String("status", string(op.Status)),
		logger.Int("succeeded", op.SucceededJobs),
		logger.Int("failed", op.FailedJobs))
}
