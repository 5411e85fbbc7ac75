// Package metrics is a small in-process registry of counters and duration
// stats, exposed read-only as JSON through the metrics endpoint.
package metrics

import (
	"sync"
	"time"

	"github.com/rbalaji/peoplecounter/pkg/models"
)

// Registry accumulates counters and per-stage duration stats. Safe for
// concurrent use by workers and the HTTP handlers.
type Registry struct {
	mu sync.RWMutex

	submitted int64
	completed int64
	failed    map[models.ErrorKind]int64
	stages    map[string]*durationStat

	// occupancy is polled at snapshot time so the gauge never goes stale.
	occupancy func() (inFlight, capacity int64)
}

type durationStat struct {
	Count   int64
	TotalMS int64
	MaxMS   int64
}

func NewRegistry() *Registry {
	return &Registry{
		failed: make(map[models.ErrorKind]int64),
		stages: make(map[string]*durationStat),
	}
}

// SetOccupancyFunc registers the pool occupancy source. Called once at wiring
// time by main.
func (r *Registry) SetOccupancyFunc(f func() (int64, int64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.occupancy = f
}

func (r *Registry) IncSubmitted() {
	r.mu.Lock()
	r.submitted++
	r.mu.Unlock()
}

func (r *Registry) IncCompleted() {
	r.mu.Lock()
	r.completed++
	r.mu.Unlock()
}

func (r *Registry) IncFailed(kind models.ErrorKind) {
	r.mu.Lock()
	r.failed[kind]++
	r.mu.Unlock()
}

// ObserveStage records one pipeline stage execution.
func (r *Registry) ObserveStage(stage string, d time.Duration) {
	ms := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stages[stage]
	if !ok {
		st = &durationStat{}
		r.stages[stage] = st
	}
	st.Count++
	st.TotalMS += ms
	if ms > st.MaxMS {
		st.MaxMS = ms
	}
}

// StageStat is the JSON projection of one stage's duration stats.
type StageStat struct {
	Count   int64 `json:"count"`
	TotalMS int64 `json:"total_ms"`
	MaxMS   int64 `json:"max_ms"`
}

// Snapshot is the read-only projection served by the metrics endpoint.
type Snapshot struct {
	Submitted     int64                `json:"jobs_submitted"`
	Completed     int64                `json:"jobs_completed"`
	FailedByKind  map[string]int64     `json:"jobs_failed_by_kind"`
	Stages        map[string]StageStat `json:"pipeline_stage_durations"`
	PoolInFlight  int64                `json:"pool_in_flight"`
	PoolCapacity  int64                `json:"pool_capacity"`
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Submitted:    r.submitted,
		Completed:    r.completed,
		FailedByKind: make(map[string]int64, len(r.failed)),
		Stages:       make(map[string]StageStat, len(r.stages)),
	}
	for kind, n := range r.failed {
		snap.FailedByKind[string(kind)] = n
	}
	for stage, st := range r.stages {
		snap.Stages[stage] = StageStat{Count: st.Count, TotalMS: st.TotalMS, MaxMS: st.MaxMS}
	}
	if r.occupancy != nil {
		snap.PoolInFlight, snap.PoolCapacity = r.occupancy()
	}
	return snap
}
