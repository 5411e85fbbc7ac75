package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rbalaji/peoplecounter/pkg/models"
)

func people(confidences ...float64) []models.Detection {
	dets := make([]models.Detection, 0, len(confidences))
	for _, c := range confidences {
		dets = append(dets, models.Detection{Label: "person", Confidence: c})
	}
	return dets
}

func TestAggregator_MaxAcrossFrames(t *testing.T) {
	agg := NewAggregator("person", 0.5)

	agg.Observe(people(0.9, 0.8, 0.7))           // 3
	agg.Observe(people(0.9, 0.9, 0.9, 0.8, 0.7)) // 5, busiest frame
	agg.Observe(people(0.6))                     // 1

	assert.Equal(t, 5, agg.Count())
}

func TestAggregator_NoFrames(t *testing.T) {
	agg := NewAggregator("person", 0.5)
	assert.Equal(t, 0, agg.Count())
}

func TestAggregator_EmptyFrames(t *testing.T) {
	agg := NewAggregator("person", 0.5)
	agg.Observe(nil)
	agg.Observe([]models.Detection{})
	assert.Equal(t, 0, agg.Count())
}

func TestAggregator_ConfidenceThresholdIsExclusive(t *testing.T) {
	agg := NewAggregator("person", 0.5)

	agg.Observe(people(0.5, 0.5)) // exactly at threshold, not above
	assert.Equal(t, 0, agg.Count())

	agg.Observe(people(0.50001))
	assert.Equal(t, 1, agg.Count())
}

func TestAggregator_IgnoresOtherLabels(t *testing.T) {
	agg := NewAggregator("person", 0.5)

	agg.Observe([]models.Detection{
		{Label: "person", Confidence: 0.9},
		{Label: "dog", Confidence: 0.99},
		{Label: "bicycle", Confidence: 0.95},
		{Label: "person", Confidence: 0.8},
	})

	assert.Equal(t, 2, agg.Count())
}
