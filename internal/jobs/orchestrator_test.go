package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbalaji/peoplecounter/internal/config"
	"github.com/rbalaji/peoplecounter/internal/metrics"
	"github.com/rbalaji/peoplecounter/internal/store"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

// stubRunner scripts pipeline outcomes per job.
type stubRunner struct {
	mu  sync.Mutex
	run func(ctx context.Context, job *models.Job) (int, error)

	order []uuid.UUID
}

func (r *stubRunner) Run(ctx context.Context, job *models.Job) (int, error) {
	r.mu.Lock()
	r.order = append(r.order, job.ID)
	r.mu.Unlock()
	if r.run == nil {
		return 0, nil
	}
	return r.run(ctx, job)
}

func (r *stubRunner) ranOrder() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.order...)
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		PoolSize:          2,
		JobTimeout:        5 * time.Second,
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
		StaleAfter:        50 * time.Millisecond,
		DrainTimeout:      time.Second,
	}
}

func newTestOrchestrator(t *testing.T, st *memStore, runner Runner, cfg config.WorkerConfig) (*Orchestrator, *memCache, *metrics.Registry) {
	t.Helper()
	ca := newMemCache()
	reg := metrics.NewRegistry()
	o := NewOrchestrator(st, ca, runner, reg, cfg)
	reg.SetOccupancyFunc(o.Occupancy)
	return o, ca, reg
}

func submitOne(t *testing.T, o *Orchestrator, ref string) *models.Job {
	t.Helper()
	job, err := o.Submit(context.Background(), SubmitParams{
		VideoReference: ref,
		Submitter:      "alice",
	})
	require.NoError(t, err)
	return job
}

func waitForStatus(t *testing.T, st *memStore, id uuid.UUID, status string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return st.statusOf(id) == status
	}, 3*time.Second, 5*time.Millisecond, "job never reached %s", status)
}

// --- Submission ---

func TestSubmit_PersistsPendingJob(t *testing.T) {
	st := newMemStore()
	o, _, reg := newTestOrchestrator(t, st, &stubRunner{}, testWorkerConfig())

	job := submitOne(t, o, "s3://videos/lobby.mp4")

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, "alice", got.Submitter)
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, int64(1), reg.Snapshot().Submitted)
}

func TestSubmit_RejectsInvalidReference(t *testing.T) {
	st := newMemStore()
	o, _, _ := newTestOrchestrator(t, st, &stubRunner{}, testWorkerConfig())

	_, err := o.Submit(context.Background(), SubmitParams{
		VideoReference: "not a uri",
		Submitter:      "alice",
	})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInvalidReference, models.KindOf(err))

	_, err = o.Submit(context.Background(), SubmitParams{
		VideoReference: "ftp://host/video.mp4",
		Submitter:      "alice",
	})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindUnsupportedScheme, models.KindOf(err))

	_, err = o.Submit(context.Background(), SubmitParams{
		VideoReference: "s3://videos/lobby.mp4",
	})
	require.Error(t, err, "submitter is required")

	// Nothing was persisted.
	assert.Equal(t, 0, st.countByStatus(models.JobStatusPending))
}

// --- Execution ---

func TestOrchestrator_CompletesJob(t *testing.T) {
	st := newMemStore()
	runner := &stubRunner{run: func(ctx context.Context, job *models.Job) (int, error) {
		return 7, nil
	}}
	o, ca, reg := newTestOrchestrator(t, st, runner, testWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	job := submitOne(t, o, "s3://videos/lobby.mp4")
	waitForStatus(t, st, job.ID, models.JobStatusCompleted)

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ResultCount)
	assert.Equal(t, 7, *got.ResultCount)
	assert.Nil(t, got.ErrorKind)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	// Terminal result was pushed to the cache for pollers.
	require.Eventually(t, func() bool {
		cached, ok, _ := ca.GetJob(context.Background(), job.ID)
		return ok && cached.Status == models.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(1), reg.Snapshot().Completed)
}

func TestOrchestrator_FailureLandsClassifiedError(t *testing.T) {
	st := newMemStore()
	runner := &stubRunner{run: func(ctx context.Context, job *models.Job) (int, error) {
		return 0, models.NewJobError(models.ErrKindNotFound, "remote object not found")
	}}
	o, _, reg := newTestOrchestrator(t, st, runner, testWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	job := submitOne(t, o, "https://cdn.example.com/gone.mp4")
	waitForStatus(t, st, job.ID, models.JobStatusFailed)

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorKind)
	assert.Equal(t, string(models.ErrKindNotFound), *got.ErrorKind)
	require.NotNil(t, got.ErrorMessage)
	assert.Nil(t, got.ResultCount)

	assert.Equal(t, int64(1), reg.Snapshot().FailedByKind[string(models.ErrKindNotFound)])
}

func TestOrchestrator_PanicBecomesInternalError(t *testing.T) {
	st := newMemStore()
	runner := &stubRunner{run: func(ctx context.Context, job *models.Job) (int, error) {
		panic("decoder went sideways")
	}}
	o, _, _ := newTestOrchestrator(t, st, runner, testWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	job := submitOne(t, o, "s3://videos/lobby.mp4")
	waitForStatus(t, st, job.ID, models.JobStatusFailed)

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorKind)
	assert.Equal(t, string(models.ErrKindInternal), *got.ErrorKind)
}

func TestOrchestrator_TimeoutKind(t *testing.T) {
	st := newMemStore()
	runner := &stubRunner{run: func(ctx context.Context, job *models.Job) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}}
	cfg := testWorkerConfig()
	cfg.JobTimeout = 30 * time.Millisecond
	o, _, _ := newTestOrchestrator(t, st, runner, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	job := submitOne(t, o, "s3://videos/endless.mp4")
	waitForStatus(t, st, job.ID, models.JobStatusFailed)

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorKind)
	assert.Equal(t, string(models.ErrKindTimeout), *got.ErrorKind)
}

func TestOrchestrator_BoundedConcurrency(t *testing.T) {
	st := newMemStore()

	var inFlight, peak atomic.Int64
	gate := make(chan struct{})
	runner := &stubRunner{run: func(ctx context.Context, job *models.Job) (int, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-gate
		inFlight.Add(-1)
		return 0, nil
	}}

	o, _, _ := newTestOrchestrator(t, st, runner, testWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	var ids []uuid.UUID
	for i := 0; i < 6; i++ {
		ids = append(ids, submitOne(t, o, "s3://videos/lobby.mp4").ID)
	}

	// Pool saturates at its size; the rest wait in pending.
	require.Eventually(t, func() bool {
		return st.countByStatus(models.JobStatusProcessing) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, st.countByStatus(models.JobStatusPending))

	close(gate)
	for _, id := range ids {
		waitForStatus(t, st, id, models.JobStatusCompleted)
	}
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestOrchestrator_FIFOAdmission(t *testing.T) {
	st := newMemStore()
	runner := &stubRunner{}
	cfg := testWorkerConfig()
	cfg.PoolSize = 1
	o, _, _ := newTestOrchestrator(t, st, runner, cfg)

	// Submit before starting so admission sees the full queue at once.
	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		job, err := o.Submit(context.Background(), SubmitParams{
			VideoReference: "s3://videos/lobby.mp4",
			Submitter:      "alice",
		})
		require.NoError(t, err)
		// Distinct creation stamps so FIFO order is well defined.
		st.mu.Lock()
		st.jobs[job.ID].CreatedAt = st.jobs[job.ID].CreatedAt.Add(time.Duration(i) * time.Millisecond)
		st.mu.Unlock()
		ids = append(ids, job.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	for _, id := range ids {
		waitForStatus(t, st, id, models.JobStatusCompleted)
	}
	assert.Equal(t, ids, runner.ranOrder())
}

// --- Crash recovery ---

func TestStart_RequeuesStalledJobs(t *testing.T) {
	st := newMemStore()

	// A job left in processing by a crashed process, heartbeat long gone.
	stale := time.Now().UTC().Add(-time.Hour)
	job := &models.Job{
		ID:             uuid.New(),
		VideoReference: "s3://videos/lobby.mp4",
		Submitter:      "alice",
		Status:         models.JobStatusProcessing,
		HeartbeatAt:    &stale,
		CreatedAt:      stale,
		UpdatedAt:      stale,
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	st.mu.Lock()
	st.jobs[job.ID].Status = models.JobStatusProcessing
	st.jobs[job.ID].HeartbeatAt = &stale
	st.mu.Unlock()

	runner := &stubRunner{run: func(ctx context.Context, j *models.Job) (int, error) {
		return 3, nil
	}}
	o, _, _ := newTestOrchestrator(t, st, runner, testWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	// The stalled job is recovered and runs to completion.
	waitForStatus(t, st, job.ID, models.JobStatusCompleted)
}

// --- Heartbeats ---

func TestOrchestrator_HeartbeatsWhileRunning(t *testing.T) {
	st := newMemStore()

	gate := make(chan struct{})
	runner := &stubRunner{run: func(ctx context.Context, job *models.Job) (int, error) {
		<-gate
		return 0, nil
	}}
	o, _, _ := newTestOrchestrator(t, st, runner, testWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	job := submitOne(t, o, "s3://videos/lobby.mp4")
	waitForStatus(t, st, job.ID, models.JobStatusProcessing)

	first, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, first.HeartbeatAt)

	// The heartbeat stamp advances while the pipeline runs.
	require.Eventually(t, func() bool {
		cur, err := st.GetJob(context.Background(), job.ID)
		return err == nil && cur.HeartbeatAt != nil && cur.HeartbeatAt.After(*first.HeartbeatAt)
	}, time.Second, 5*time.Millisecond)

	close(gate)
	waitForStatus(t, st, job.ID, models.JobStatusCompleted)
}

// --- Shutdown ---

func TestShutdown_DrainsInFlightJobs(t *testing.T) {
	st := newMemStore()

	gate := make(chan struct{})
	runner := &stubRunner{run: func(ctx context.Context, job *models.Job) (int, error) {
		<-gate
		return 1, nil
	}}
	o, _, _ := newTestOrchestrator(t, st, runner, testWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, o.Start(ctx))

	job := submitOne(t, o, "s3://videos/lobby.mp4")
	waitForStatus(t, st, job.ID, models.JobStatusProcessing)

	// Stop admission.
	cancel()

	// Drain times out while the job is still running.
	shortCtx, cancelShort := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancelShort()
	require.Error(t, o.Shutdown(shortCtx))

	// Release the job; drain now succeeds and the result is persisted.
	close(gate)
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), time.Second)
	defer cancelDrain()
	require.NoError(t, o.Shutdown(drainCtx))

	waitForStatus(t, st, job.ID, models.JobStatusCompleted)
}

func TestShutdown_PendingJobsSurvive(t *testing.T) {
	st := newMemStore()
	o, _, _ := newTestOrchestrator(t, st, &stubRunner{}, testWorkerConfig())

	// Never started: submitted jobs simply stay pending.
	job := submitOne(t, o, "s3://videos/lobby.mp4")

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelDrain()
	require.NoError(t, o.Shutdown(drainCtx))

	assert.Equal(t, models.JobStatusPending, st.statusOf(job.ID))
}

// --- Conflict handling ---

func TestFinishJob_RetriesConflictOnce(t *testing.T) {
	st := newMemStore()
	o, _, reg := newTestOrchestrator(t, st, &stubRunner{}, testWorkerConfig())

	job := submitOne(t, o, "s3://videos/lobby.mp4")
	_, err := st.ClaimNextPendingJob(context.Background())
	require.NoError(t, err)

	st.mu.Lock()
	st.conflictNext = true
	st.mu.Unlock()

	o.finishJob(job, 4, nil)

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.ResultCount)
	assert.Equal(t, 4, *got.ResultCount)
	assert.Equal(t, int64(1), reg.Snapshot().Completed)
}

func TestFinishJob_AlreadyTerminalIsDropped(t *testing.T) {
	st := newMemStore()
	o, _, _ := newTestOrchestrator(t, st, &stubRunner{}, testWorkerConfig())

	job := submitOne(t, o, "s3://videos/lobby.mp4")
	_, err := st.ClaimNextPendingJob(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.UpdateJobStatus(context.Background(), job.ID,
		models.JobStatusProcessing, models.JobStatusFailed,
		store.WithJobError(models.ErrKindTimeout, "budget exceeded")))

	// A late completion attempt must not overwrite the terminal state.
	o.finishJob(job, 9, nil)

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Nil(t, got.ResultCount)
}

// --- Occupancy ---

func TestOccupancy(t *testing.T) {
	st := newMemStore()

	gate := make(chan struct{})
	runner := &stubRunner{run: func(ctx context.Context, job *models.Job) (int, error) {
		<-gate
		return 0, nil
	}}
	o, _, _ := newTestOrchestrator(t, st, runner, testWorkerConfig())

	inFlight, capacity := o.Occupancy()
	assert.Equal(t, int64(0), inFlight)
	assert.Equal(t, int64(2), capacity)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	job := submitOne(t, o, "s3://videos/lobby.mp4")
	waitForStatus(t, st, job.ID, models.JobStatusProcessing)

	inFlight, _ = o.Occupancy()
	assert.Equal(t, int64(1), inFlight)

	close(gate)
	waitForStatus(t, st, job.ID, models.JobStatusCompleted)
}
