// Package detect wraps the external object-detection capability behind the
// models.Detector interface.
package detect

import (
	"context"
	"fmt"

	"github.com/rbalaji/peoplecounter/internal/config"
	"github.com/rbalaji/peoplecounter/internal/detect/httpinfer"
	"github.com/rbalaji/peoplecounter/internal/detect/mock"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

// NewDetector constructs the configured detector. Called once at server
// startup; the http provider probes its backend here so that a missing model
// server fails fast rather than failing the first job.
func NewDetector(ctx context.Context, cfg config.DetectorConfig) (models.Detector, error) {
	var (
		d   models.Detector
		err error
	)
	switch cfg.Provider {
	case "http":
		d, err = httpinfer.NewProvider(ctx, cfg)
	case "mock":
		d = mock.NewProvider()
	default:
		return nil, fmt.Errorf("unknown detector provider %q: must be one of http, mock", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxConcurrency > 0 {
		d = NewLimited(d, cfg.MaxConcurrency)
	}
	return d, nil
}
