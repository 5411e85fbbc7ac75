package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job is one request to count people in one video. The API returns a job_id
// on POST /api/v1/videos/analyze; the client polls GET /api/v1/jobs/{job_id}
// until status is completed or failed.
type Job struct {
	ID              uuid.UUID  `db:"id"                json:"id"`
	VideoReference  string     `db:"video_reference"   json:"video_reference"`
	ExternalVideoID *string    `db:"external_video_id" json:"external_video_id,omitempty"`
	Submitter       string     `db:"submitter"         json:"submitter"`
	Status          string     `db:"status"            json:"status"`
	ResultCount     *int       `db:"result_count"      json:"result_count,omitempty"`
	ErrorKind       *string    `db:"error_kind"        json:"error_kind,omitempty"`
	ErrorMessage    *string    `db:"error_message"     json:"error_message,omitempty"`
	HeartbeatAt     *time.Time `db:"heartbeat_at"      json:"-"`
	CreatedAt       time.Time  `db:"created_at"        json:"created_at"`
	StartedAt       *time.Time `db:"started_at"        json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at"      json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `db:"updated_at"        json:"updated_at"`
}

// Terminal reports whether the job has reached a final state. Terminal jobs
// are immutable.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
