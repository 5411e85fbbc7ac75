package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
	// ErrConflict means the job's current status did not match the expected
	// prior status of an update. Callers re-read and reapply at most once.
	ErrConflict = errors.New("job status conflict")
)

// Store is the data access interface. All database operations go through
// here. Mutations are atomic per job id; the orchestrator is the sole writer
// of job status, result, error, and timestamps.
type Store interface {
	Ping(ctx context.Context) error

	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)

	// UpdateJobStatus transitions a job from one status to another. The
	// update is rejected with ErrConflict if the stored status is not `from`,
	// and with an error if from -> to is not a legal transition.
	UpdateJobStatus(ctx context.Context, id uuid.UUID, from, to string, opts ...JobUpdateOption) error

	// ClaimNextPendingJob atomically moves the oldest pending job to
	// processing and returns it. ErrNotFound when no job is pending.
	ClaimNextPendingJob(ctx context.Context) (*models.Job, error)

	// HeartbeatJob refreshes the liveness stamp of a processing job.
	HeartbeatJob(ctx context.Context, id uuid.UUID) error

	// RequeueStalledJobs resets processing jobs whose heartbeat is older than
	// staleAfter (or absent) back to pending. Crash recovery only; runs
	// before the dispatch loop starts.
	RequeueStalledJobs(ctx context.Context, staleAfter time.Duration) (int, error)
}

// JobFilter narrows ListJobs. Zero values are ignored.
type JobFilter struct {
	Status    string
	Submitter string
	Page      int
	Limit     int
}

// JobUpdateParams collects the optional fields of a status transition.
type JobUpdateParams struct {
	ResultCount  *int
	ErrorKind    *string
	ErrorMessage *string
}

type JobUpdateOption func(*JobUpdateParams)

// WithResultCount attaches the final people count. Only meaningful on the
// transition into completed.
func WithResultCount(count int) JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.ResultCount = &count
	}
}

// WithJobError attaches a classified failure. Only meaningful on the
// transition into failed.
func WithJobError(kind models.ErrorKind, msg string) JobUpdateOption {
	return func(p *JobUpdateParams) {
		k := string(kind)
		p.ErrorKind = &k
		p.ErrorMessage = &msg
	}
}
