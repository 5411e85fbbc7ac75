package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbalaji/peoplecounter/internal/store"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

// memStore is an in-memory store.Store with the same transition semantics as
// the Postgres implementation.
type memStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job

	// conflictNext forces the next UpdateJobStatus call to report a
	// conflict without touching the record.
	conflictNext bool
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func cloneJob(j *models.Job) *models.Job {
	c := *j
	return &c
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

func (m *memStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error { return nil }
func (m *memStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	return nil, nil
}
func (m *memStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error { return nil }

func (m *memStore) CreateJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *memStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *memStore) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Submitter != "" && j.Submitter != filter.Submitter {
			continue
		}
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, len(out), nil
}

func memTransitionAllowed(from, to string) bool {
	switch from {
	case models.JobStatusPending:
		return to == models.JobStatusProcessing
	case models.JobStatusProcessing:
		return to == models.JobStatusCompleted || to == models.JobStatusFailed
	}
	return false
}

func (m *memStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, from, to string, opts ...store.JobUpdateOption) error {
	if !memTransitionAllowed(from, to) {
		return fmt.Errorf("invalid job status transition: %s -> %s", from, to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conflictNext {
		m.conflictNext = false
		return fmt.Errorf("%w: injected", store.ErrConflict)
	}

	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != from {
		return fmt.Errorf("%w: expected %s, found %s", store.ErrConflict, from, j.Status)
	}

	params := &store.JobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	now := time.Now().UTC()
	j.Status = to
	j.UpdatedAt = now
	if to == models.JobStatusProcessing {
		j.StartedAt = &now
		j.HeartbeatAt = &now
	}
	if to == models.JobStatusCompleted || to == models.JobStatusFailed {
		j.CompletedAt = &now
	}
	if params.ResultCount != nil {
		j.ResultCount = params.ResultCount
	}
	j.ErrorKind = params.ErrorKind
	j.ErrorMessage = params.ErrorMessage
	return nil
}

func (m *memStore) ClaimNextPendingJob(ctx context.Context) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *models.Job
	for _, j := range m.jobs {
		if j.Status != models.JobStatusPending {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	oldest.Status = models.JobStatusProcessing
	oldest.StartedAt = &now
	oldest.HeartbeatAt = &now
	oldest.UpdatedAt = now
	return cloneJob(oldest), nil
}

func (m *memStore) HeartbeatJob(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusProcessing {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

func (m *memStore) RequeueStalledJobs(ctx context.Context, staleAfter time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-staleAfter)
	n := 0
	for _, j := range m.jobs {
		if j.Status != models.JobStatusProcessing {
			continue
		}
		if j.HeartbeatAt == nil || j.HeartbeatAt.Before(cutoff) {
			j.Status = models.JobStatusPending
			j.StartedAt = nil
			j.HeartbeatAt = nil
			j.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (m *memStore) statusOf(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j.Status
	}
	return ""
}

func (m *memStore) countByStatus(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Status == status {
			n++
		}
	}
	return n
}

var _ store.Store = (*memStore)(nil)

// memCache is an in-memory cache.Cache. TTLs are ignored.
type memCache struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

func newMemCache() *memCache {
	return &memCache{jobs: make(map[uuid.UUID]*models.Job)}
}

func (c *memCache) Ping(ctx context.Context) error { return nil }

func (c *memCache) SetJob(ctx context.Context, job *models.Job, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[job.ID] = cloneJob(job)
	return nil
}

func (c *memCache) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return cloneJob(j), true, nil
}

func (c *memCache) DeleteJob(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.jobs, id)
	return nil
}

func (c *memCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	return 1, nil
}
