// Package scheduler runs durable background jobs. A job that needs to wait
// for an external system does not block a worker; its handler returns an
// error the job's Policy classifies as retryable and the job is re-queued.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/common/utils"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/repository"
)

// Handler performs one execution of a job. The returned result is stored
// as JSON on success.
type Handler interface {
	Perform(ctx context.Context, job *types.Job) (interface{}, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *types.Job) (interface{}, error)

// Perform calls f
func (f HandlerFunc) Perform(ctx context.Context, job *types.Job) (interface{}, error) {
	return f(ctx, job)
}

// Policy decides what happens to a job whose execution failed
type Policy struct {
	// RetryOn returns the wait before the next execution when err is
	// retryable.
	RetryOn func(err error) (wait time.Duration, retry bool)
	// MaxRetries bounds RetryOn. Zero means unlimited.
	MaxRetries int
	// DiscardOn marks errors that drop the job permanently
	DiscardOn func(err error) bool
}

// FinishedHook is called after a job reached a terminal state
type FinishedHook func(ctx context.Context, job *types.Job)

// EnqueueRequest describes a job to schedule
type EnqueueRequest struct {
	Kind        string
	OperationID string
	UniqueKey   string
	Payload     interface{}
	RunAt       time.Time
}

// Options configures a Runner
type Options struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
	// Lease bounds one execution. A job still running after its lease is
	// assumed lost with its worker and is claimed again.
	Lease  time.Duration
	Clock  func() time.Time
	Logger logger.Logger
}

// DefaultLease is the lease used when Options.Lease is not set
const DefaultLease = 5 * time.Minute

// Stats describes the runner's workers
type Stats struct {
	Workers   int  `json:"workers"`
	Running   bool `json:"running"`
	Executing int  `json:"executing"`
}

type registration struct {
	handler Handler
	policy  Policy
}

// Runner claims due jobs from the repository and executes them
type Runner struct {
	jobs   repository.JobRepository
	opts   Options
	logger logger.Logger

	mu       sync.RWMutex
	handlers map[string]registration
	hooks    []FinishedHook

	cancel    context.CancelFunc
	group     *errgroup.Group
	running   atomic.Bool
	executing atomic.Int32
}

// NewRunner creates a new Runner
func NewRunner(jobs repository.JobRepository, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobalLogger()
	}
	return &Runner{
		jobs:     jobs,
		opts:     opts,
		logger:   opts.Logger.With(logger.String("component", "scheduler")),
		handlers: make(map[string]registration),
	}
}

// Register binds a handler and its failure policy to a job kind
func (r *Runner) Register(kind string, h Handler, policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("job kind already registered: %s", kind))
	}
	r.handlers[kind] = registration{handler: h, policy: policy}
}

// OnFinished adds a hook called for every job reaching a terminal state
func (r *Runner) OnFinished(hook FinishedHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Enqueue stores a new job. When a live job with the same unique key exists
// it is returned instead and created is false.
func (r *Runner) Enqueue(ctx context.Context, req EnqueueRequest) (*types.Job, bool, error) {
	r.mu.RLock()
	_, known := r.handlers[req.Kind]
	r.mu.RUnlock()
	if !known {
		return nil, false, errors.InvalidArgument("unknown job kind").WithDetails("kind", req.Kind)
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, false, errors.InvalidArgument("job payload is not serialisable")
	}

	now := r.opts.Clock()
	runAt := req.RunAt
	if runAt.IsZero() {
		runAt = now
	}

	job, created, err := r.jobs.Create(ctx, &types.Job{
		ID:          utils.GenerateID(),
		Kind:        req.Kind,
		OperationID: req.OperationID,
		UniqueKey:   req.UniqueKey,
		Payload:     payload,
		Status:      types.JobStatusQueued,
		RunAt:       runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, false, pkgerrors.Wrap(err, "enqueue job")
	}

	if created {
		r.logger.Info("Job enqueued",
			logger.String("job_id", job.ID),
			logger.String("kind", job.Kind),
			logger.String("unique_key", job.UniqueKey))
	} else {
		r.logger.Info("Job already live, not enqueued again",
			logger.String("job_id", job.ID),
			logger.String("unique_key", job.UniqueKey))
	}
	return job, created, nil
}

// RunDue executes every job due now, one batch after another, and returns
// how many executions ran.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		jobs, err := r.jobs.ClaimDue(ctx, r.opts.Clock(), r.opts.Lease, r.opts.BatchSize)
		if err != nil {
			return total, err
		}
		if len(jobs) == 0 {
			return total, nil
		}
		for _, job := range jobs {
			r.execute(ctx, job)
			total++
		}
	}
}

// Start launches the workers. They poll until Stop is called or ctx ends.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	r.cancel = cancel
	r.group = group
	r.running.Store(true)

	for i := 0; i < r.opts.Workers; i++ {
		worker := i
		group.Go(func() error {
			r.work(ctx, worker)
			return nil
		})
	}

	r.logger.Info("Scheduler started",
		logger.Int("workers", r.opts.Workers),
		logger.Duration("poll_interval", r.opts.PollInterval))
}

// Stop cancels the workers and waits for running executions to return
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.group.Wait()
	r.running.Store(false)
	r.logger.Info("Scheduler stopped")
}

// Stats reports the workers' current state
func (r *Runner) Stats() Stats {
	return Stats{
		Workers:   r.opts.Workers,
		Running:   r.running.Load(),
		Executing: int(r.executing.Load()),
	}
}

func (r *Runner) work(ctx context.Context, worker int) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RunDue(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Claiming jobs failed", logger.Int("worker", worker), logger.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// execute runs a claimed job once and persists the outcome. An execution
// cut short by Stop puts the job back in the queue as it was.
func (r *Runner) execute(ctx context.Context, job *types.Job) {
	r.executing.Add(1)
	defer r.executing.Add(-1)

	r.mu.RLock()
	reg, known := r.handlers[job.Kind]
	r.mu.RUnlock()

	log := r.logger.With(
		logger.String("job_id", job.ID),
		logger.String("kind", job.Kind),
		logger.Int("execution", job.Executions))

	var result interface{}
	var err error
	switch {
	case !known:
		err = errors.InternalError("no handler registered for job kind")
	case ctx.Err() != nil:
		err = ctx.Err()
	default:
		result, err = perform(logger.ToContext(ctx, log), reg.handler, job)
	}

	// the outcome must be stored even though ctx may be cancelled by now
	persistCtx := context.WithoutCancel(ctx)
	now := r.opts.Clock()
	job.UpdatedAt = now
	job.LockedUntil = nil

	switch {
	case err == nil:
		job.Status = types.JobStatusSucceeded
		job.LastError = ""
		if result != nil {
			if raw, merr := json.Marshal(result); merr == nil {
				job.Result = raw
			}
		}
		log.Info("Job succeeded")

	case ctx.Err() != nil:
		job.Status = types.JobStatusQueued
		job.RunAt = now
		job.LastError = "interrupted: " + err.Error()
		log.Info("Job interrupted by shutdown, re-queued", logger.String("reason", err.Error()))

	case retryable(reg.policy, job, err):
		wait, _ := reg.policy.RetryOn(err)
		job.Status = types.JobStatusQueued
		job.Retries++
		job.RunAt = now.Add(wait)
		job.LastError = err.Error()
		log.Debug("Job rescheduled",
			logger.Int("retries", job.Retries),
			logger.Duration("wait", wait),
			logger.String("reason", err.Error()))

	case reg.policy.DiscardOn != nil && reg.policy.DiscardOn(err):
		job.Status = types.JobStatusDiscarded
		job.LastError = err.Error()
		log.Warn("Job discarded", logger.Error(err))

	default:
		job.Status = types.JobStatusFailed
		job.LastError = err.Error()
		log.Error("Job failed", logger.Error(err))
	}

	if job.Status.Terminal() {
		job.FinishedAt = &now
	}

	if uerr := r.jobs.Update(persistCtx, job); uerr != nil {
		if errors.HasCode(uerr, errors.ErrConflict) {
			log.Warn("Job lease expired before the outcome was stored, outcome dropped",
				logger.String("status", string(job.Status)))
			return
		}
		log.Error("Persisting job outcome failed", logger.Error(uerr))
		return
	}

	if job.Status.Terminal() {
		r.mu.RLock()
		hooks := append([]FinishedHook(nil), r.hooks...)
		r.mu.RUnlock()
		for _, hook := range hooks {
			hook(persistCtx, job)
		}
	}
}

func retryable(policy Policy, job *types.Job, err error) bool {
	if policy.RetryOn == nil {
		return false
	}
	if _, ok := policy.RetryOn(err); !ok {
		return false
	}
	return policy.MaxRetries == 0 || job.Retries < policy.MaxRetries
}

// perform calls the handler and turns a panic into a failed execution
func perform(ctx context.Context, h Handler, job *types.Job) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.InternalError(fmt.Sprintf("job panicked: %v", rec))
		}
	}()
	return h.Perform(ctx, job)
}
