// Package jobs owns the job lifecycle: admission of new analysis requests,
// the bounded worker pool, the per-job state machine, and crash recovery.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"github.com/rbalaji/peoplecounter/internal/cache"
	"github.com/rbalaji/peoplecounter/internal/config"
	"github.com/rbalaji/peoplecounter/internal/fetch"
	"github.com/rbalaji/peoplecounter/internal/metrics"
	"github.com/rbalaji/peoplecounter/internal/store"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

// SubmitParams are the validated inputs of one analysis request.
type SubmitParams struct {
	VideoReference  string
	ExternalVideoID *string
	Submitter       string
}

// Orchestrator admits jobs, drives each through the pipeline on a bounded
// worker pool, and is the sole writer of job status, result, error, and
// timestamps. Constructed once per process and passed explicitly to the
// submission and status entry points.
type Orchestrator struct {
	store   store.Store
	cache   cache.Cache
	runner  Runner
	metrics *metrics.Registry
	cfg     config.WorkerConfig

	slots    *semaphore.Weighted
	inFlight atomic.Int64
	wake     chan struct{}
	wg       sync.WaitGroup
}

func NewOrchestrator(st store.Store, ca cache.Cache, runner Runner, reg *metrics.Registry, cfg config.WorkerConfig) *Orchestrator {
	return &Orchestrator{
		store:   st,
		cache:   ca,
		runner:  runner,
		metrics: reg,
		cfg:     cfg,
		slots:   semaphore.NewWeighted(cfg.PoolSize),
		wake:    make(chan struct{}, 1),
	}
}

// Submit validates the reference, persists a pending record, and returns
// immediately. It never blocks on pipeline execution, regardless of pool
// saturation.
func (o *Orchestrator) Submit(ctx context.Context, params SubmitParams) (*models.Job, error) {
	if err := fetch.ValidateReference(params.VideoReference); err != nil {
		return nil, err
	}
	if params.Submitter == "" {
		return nil, models.NewJobError(models.ErrKindInvalidReference, "submitter is required")
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:              uuid.New(),
		VideoReference:  params.VideoReference,
		ExternalVideoID: params.ExternalVideoID,
		Submitter:       params.Submitter,
		Status:          models.JobStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	o.metrics.IncSubmitted()

	// Nudge the dispatch loop; the periodic poll covers a missed nudge.
	select {
	case o.wake <- struct{}{}:
	default:
	}

	slog.Info("job submitted", "job_id", job.ID, "submitter", job.Submitter)
	return job, nil
}

// Start recovers jobs interrupted by a previous crash, then launches the
// dispatch loop. Jobs found in processing with a stale or absent heartbeat
// are reset to pending before any admission happens.
func (o *Orchestrator) Start(ctx context.Context) error {
	requeued, err := o.store.RequeueStalledJobs(ctx, o.cfg.StaleAfter)
	if err != nil {
		return fmt.Errorf("recover stalled jobs: %w", err)
	}
	if requeued > 0 {
		slog.Info("requeued jobs interrupted by previous shutdown", "count", requeued)
	}

	go o.dispatchLoop(ctx)
	return nil
}

// Shutdown waits for in-flight jobs to finish, bounded by ctx. Admission has
// already stopped once the Start context is cancelled; pending jobs survive
// durably and are admitted again on the next start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain interrupted with %d jobs in flight", o.inFlight.Load())
	}
}

// Occupancy reports in-flight workers and pool capacity.
func (o *Orchestrator) Occupancy() (int64, int64) {
	return o.inFlight.Load(), o.cfg.PoolSize
}

func (o *Orchestrator) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		o.admitPending(ctx)
		select {
		case <-ctx.Done():
			slog.Info("dispatch loop stopped, no longer admitting jobs")
			return
		case <-o.wake:
		case <-ticker.C:
		}
	}
}

// admitPending claims pending jobs in FIFO order while worker slots are
// free. A slot is acquired before the claim so a claimed job starts
// immediately; claiming is the pending -> processing transition.
func (o *Orchestrator) admitPending(ctx context.Context) {
	for {
		if err := o.slots.Acquire(ctx, 1); err != nil {
			return
		}

		job, err := o.store.ClaimNextPendingJob(ctx)
		if err != nil {
			o.slots.Release(1)
			if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
				slog.Error("claiming pending job", "error", err)
			}
			return
		}

		o.inFlight.Add(1)
		o.wg.Add(1)
		go o.runJob(ctx, job)
	}
}

// runJob executes one job's pipeline on the worker's slot, heartbeating for
// liveness, and always lands the job in a terminal state.
func (o *Orchestrator) runJob(ctx context.Context, job *models.Job) {
	defer o.wg.Done()
	defer o.slots.Release(1)
	defer o.inFlight.Add(-1)

	// The job keeps running through server shutdown; the drain timeout in
	// main bounds how long we wait for it.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in job pipeline", "job_id", job.ID, "panic", r)
			o.finishJob(job, 0, models.NewJobError(models.ErrKindInternal, "panic: %v", r))
		}
	}()

	stopHeartbeat := o.startHeartbeat(jobCtx, job.ID)
	defer stopHeartbeat()

	slog.Info("job started", "job_id", job.ID, "video_reference", job.VideoReference)

	count, err := o.runner.Run(jobCtx, job)
	if err != nil && jobCtx.Err() == context.DeadlineExceeded {
		err = models.NewJobError(models.ErrKindTimeout,
			"pipeline exceeded %s budget", o.cfg.JobTimeout)
	}

	stopHeartbeat()
	o.finishJob(job, count, err)
}

// startHeartbeat refreshes the job's liveness stamp until stopped. The
// returned stop is idempotent.
func (o *Orchestrator) startHeartbeat(ctx context.Context, id uuid.UUID) func() {
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(o.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := o.store.HeartbeatJob(ctx, id); err != nil && ctx.Err() == nil {
					slog.Warn("job heartbeat failed", "job_id", id, "error", err)
				}
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }
}

// finishJob persists the terminal state. Runs on a fresh context so a
// cancelled job context cannot lose the result.
func (o *Orchestrator) finishJob(job *models.Job, count int, jobErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if jobErr == nil {
		err := o.updateWithConflictRetry(ctx, job.ID, models.JobStatusProcessing, models.JobStatusCompleted,
			store.WithResultCount(count))
		if err != nil {
			slog.Error("persisting completed job", "job_id", job.ID, "error", err)
			return
		}
		o.metrics.IncCompleted()
		slog.Info("job completed", "job_id", job.ID, "people_count", count)
	} else {
		kind := models.KindOf(jobErr)
		err := o.updateWithConflictRetry(ctx, job.ID, models.JobStatusProcessing, models.JobStatusFailed,
			store.WithJobError(kind, jobErr.Error()))
		if err != nil {
			slog.Error("persisting failed job", "job_id", job.ID, "error", err)
			return
		}
		o.metrics.IncFailed(kind)
		slog.Warn("job failed", "job_id", job.ID, "error_kind", kind, "error", jobErr)
	}

	// Best-effort: polling clients read terminal projections from the cache.
	if terminal, err := o.store.GetJob(ctx, job.ID); err == nil {
		if err := o.cache.SetJob(ctx, terminal, cache.TerminalJobTTL); err != nil {
			slog.Warn("caching terminal job", "job_id", job.ID, "error", err)
		}
	}
}

// updateWithConflictRetry applies a status transition, retrying once on a
// store conflict after re-reading current state. A persistent conflict is an
// internal error: this process is supposed to be the only status writer.
func (o *Orchestrator) updateWithConflictRetry(ctx context.Context, id uuid.UUID, from, to string, opts ...store.JobUpdateOption) error {
	err := o.store.UpdateJobStatus(ctx, id, from, to, opts...)
	if !errors.Is(err, store.ErrConflict) {
		return err
	}

	current, getErr := o.store.GetJob(ctx, id)
	if getErr != nil {
		return fmt.Errorf("re-reading job after conflict: %w", getErr)
	}
	if current.Terminal() {
		// Someone already landed a terminal state; nothing left to apply.
		slog.Warn("job already terminal on conflict retry", "job_id", id, "status", current.Status)
		return nil
	}

	if err := o.store.UpdateJobStatus(ctx, id, current.Status, to, opts...); err != nil {
		return models.NewJobError(models.ErrKindInternal,
			"persistent status conflict on job %s: %v", id, err)
	}
	return nil
}
