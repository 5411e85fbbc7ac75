package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	mw "github.com/rbalaji/peoplecounter/internal/api/middleware"
	"github.com/rbalaji/peoplecounter/internal/api/response"
	"github.com/rbalaji/peoplecounter/internal/jobs"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

// Submitter defines the interface the handler depends on.
type Submitter interface {
	Submit(ctx context.Context, params jobs.SubmitParams) (*models.Job, error)
}

// NewAnalyzeHandler returns an http.HandlerFunc for POST /api/v1/videos/analyze.
// Accepted submissions return 202 with the pending job record; the result is
// retrieved later via the jobs endpoints.
func NewAnalyzeHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			VideoReference  string  `json:"video_reference"`
			ExternalVideoID *string `json:"external_video_id"`
			Submitter       string  `json:"submitter"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.VideoReference == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "video_reference is required", nil)
			return
		}

		submitter := req.Submitter
		if submitter == "" {
			// Fall back to the authenticated identity when the body omits it.
			submitter, _ = mw.GetCaller(r)
		}
		if submitter == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "submitter is required", nil)
			return
		}

		job, err := svc.Submit(r.Context(), jobs.SubmitParams{
			VideoReference:  req.VideoReference,
			ExternalVideoID: req.ExternalVideoID,
			Submitter:       submitter,
		})
		if err != nil {
			switch models.KindOf(err) {
			case models.ErrKindInvalidReference:
				response.Error(w, http.StatusBadRequest, "INVALID_VIDEO_REFERENCE",
					"video_reference is not a valid video location", nil)
			case models.ErrKindUnsupportedScheme:
				response.Error(w, http.StatusBadRequest, "UNSUPPORTED_SCHEME",
					"video_reference scheme is not supported; use s3:// or https://", nil)
			default:
				if errors.Is(err, context.Canceled) {
					response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN",
						"The service is shutting down", nil)
					return
				}
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, jobView(job))
	}
}

// JobResponse is the wire shape of a job record.
type JobResponse struct {
	ID              string  `json:"id"`
	VideoReference  string  `json:"video_reference"`
	ExternalVideoID *string `json:"external_video_id,omitempty"`
	Submitter       string  `json:"submitter"`
	Status          string  `json:"status"`
	ResultCount     *int    `json:"result_count,omitempty"`
	ErrorKind       *string `json:"error_kind,omitempty"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	CreatedAt       string  `json:"created_at"`
	StartedAt       *string `json:"started_at,omitempty"`
	CompletedAt     *string `json:"completed_at,omitempty"`
	UpdatedAt       string  `json:"updated_at"`
}

func jobView(j *models.Job) JobResponse {
	return JobResponse{
		ID:              j.ID.String(),
		VideoReference:  j.VideoReference,
		ExternalVideoID: j.ExternalVideoID,
		Submitter:       j.Submitter,
		Status:          j.Status,
		ResultCount:     j.ResultCount,
		ErrorKind:       j.ErrorKind,
		ErrorMessage:    j.ErrorMessage,
		CreatedAt:       j.CreatedAt.UTC().Format(time.RFC3339),
		StartedAt:       timeView(j.StartedAt),
		CompletedAt:     timeView(j.CompletedAt),
		UpdatedAt:       j.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func timeView(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
