package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/rbalaji/peoplecounter/internal/api/middleware"
	"github.com/rbalaji/peoplecounter/internal/api/response"
	"github.com/rbalaji/peoplecounter/internal/cache"
	"github.com/rbalaji/peoplecounter/internal/store"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// Terminal jobs are served from the Redis cache when present; the store is
// the fallback and the source of truth.
func NewGetJobHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		if cached, ok, cerr := c.GetJob(r.Context(), id); cerr == nil && ok {
			response.JSON(w, jobView(cached))
			return
		}

		job, err := s.GetJob(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No job with that ID", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		if job.Terminal() {
			if err := c.SetJob(r.Context(), job, cache.TerminalJobTTL); err != nil {
				slog.Warn("failed to cache job", "job_id", job.ID, "error", err)
			}
		}

		response.JSON(w, jobView(job))
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
// Results are scoped to the authenticated caller and optionally filtered
// by status.
func NewListJobsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := mw.GetCaller(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller identity", nil)
			return
		}

		status := r.URL.Query().Get("status")
		if status != "" && !validStatusFilter(status) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of pending, processing, completed, failed", nil)
			return
		}

		page := intQuery(r, "page", 1)
		limit := intQuery(r, "limit", 20)

		jobsList, total, err := s.ListJobs(r.Context(), store.JobFilter{
			Status:    status,
			Submitter: caller,
			Page:      page,
			Limit:     limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		views := make([]JobResponse, 0, len(jobsList))
		for _, j := range jobsList {
			views = append(views, jobView(j))
		}

		response.Collection(w, views, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

func validStatusFilter(s string) bool {
	switch s {
	case models.JobStatusPending, models.JobStatusProcessing,
		models.JobStatusCompleted, models.JobStatusFailed:
		return true
	}
	return false
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	return v
}
