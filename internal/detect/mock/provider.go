// Package mock satisfies models.Detector for tests and local development
// without an inference server.
package mock

import (
	"context"

	"github.com/rbalaji/peoplecounter/pkg/models"
)

// Provider is a scripted detector. DetectFunc takes precedence; otherwise
// CountsByFrame maps a source frame index to a number of person detections.
type Provider struct {
	Name_         string
	Affinity_     models.Affinity
	DetectFunc    func(ctx context.Context, frame *models.Frame) ([]models.Detection, error)
	CountsByFrame map[int]int
}

func (m *Provider) Name() string {
	if m.Name_ == "" {
		return "mock"
	}
	return m.Name_
}

func (m *Provider) Affinity() models.Affinity {
	if m.Affinity_ == "" {
		return models.AffinityCPU
	}
	return m.Affinity_
}

func (m *Provider) Detect(ctx context.Context, frame *models.Frame) ([]models.Detection, error) {
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, frame)
	}
	n := m.CountsByFrame[frame.Index]
	dets := make([]models.Detection, 0, n)
	for i := 0; i < n; i++ {
		dets = append(dets, models.Detection{
			Label:      "person",
			Confidence: 0.9,
			Box:        models.BBox{X1: i * 10, Y1: 0, X2: i*10 + 8, Y2: 20},
		})
	}
	return dets, nil
}

// NewProvider returns a Provider that sees an empty scene in every frame.
func NewProvider() *Provider {
	return &Provider{Name_: "mock"}
}

// NewFailingProvider returns a Provider that always returns the given error.
func NewFailingProvider(err error) *Provider {
	return &Provider{
		Name_: "mock-failing",
		DetectFunc: func(_ context.Context, _ *models.Frame) ([]models.Detection, error) {
			return nil, err
		},
	}
}

// Compile-time check that Provider implements Detector.
var _ models.Detector = (*Provider)(nil)
