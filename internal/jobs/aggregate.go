package jobs

import "github.com/rbalaji/peoplecounter/pkg/models"

// Aggregator reduces per-frame detection sets into a single count: the
// maximum number of simultaneously detected target-class instances across
// all sampled frames. No cross-frame identity matching is performed, so a
// job never reports a count lower than the busiest observed frame.
type Aggregator struct {
	label         string
	minConfidence float64
	max           int
}

func NewAggregator(label string, minConfidence float64) *Aggregator {
	return &Aggregator{label: label, minConfidence: minConfidence}
}

// Observe folds one frame's detections into the running maximum.
func (a *Aggregator) Observe(detections []models.Detection) {
	n := 0
	for _, d := range detections {
		if d.Label == a.label && d.Confidence > a.minConfidence {
			n++
		}
	}
	if n > a.max {
		a.max = n
	}
}

// Count returns the aggregate. Zero sampled frames yield 0, not an error.
func (a *Aggregator) Count() int { return a.max }
