package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rbalaji/peoplecounter/internal/api/response"
	"github.com/rbalaji/peoplecounter/internal/cache"
	"github.com/rbalaji/peoplecounter/internal/store"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Detector   detectorInfo      `json:"detector"`
}

type detectorInfo struct {
	Provider string `json:"provider"`
	Affinity string `json:"affinity"`
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
// It reports ok only when both the store and the cache answer a ping.
// A degraded dependency yields 503 with the failing component named.
func NewHealthHandler(s store.Store, c cache.Cache, d models.Detector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		components := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		healthy := true

		if err := s.Ping(ctx); err != nil {
			components["database"] = "unreachable"
			healthy = false
		}
		if err := c.Ping(ctx); err != nil {
			components["cache"] = "unreachable"
			healthy = false
		}

		body := healthResponse{
			Status:     "ok",
			Components: components,
			Detector: detectorInfo{
				Provider: d.Name(),
				Affinity: string(d.Affinity()),
			},
		}

		if !healthy {
			body.Status = "degraded"
			response.Error(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
				"One or more dependencies are unavailable", body)
			return
		}

		response.JSON(w, body)
	}
}
