package handler

import (
	"net/http"

	"github.com/rbalaji/peoplecounter/internal/api/response"
	"github.com/rbalaji/peoplecounter/internal/metrics"
)

// NewMetricsHandler returns an http.HandlerFunc for GET /api/v1/metrics.
func NewMetricsHandler(reg *metrics.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, reg.Snapshot())
	}
}
