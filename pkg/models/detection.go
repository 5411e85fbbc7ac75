package models

import (
	"context"
	"time"
)

// Affinity describes where a detector executes. Fixed at initialization,
// surfaced read-only through the health endpoint.
type Affinity string

const (
	AffinityAccelerated Affinity = "accelerated"
	AffinityCPU         Affinity = "cpu"
)

// BBox is a pixel-space bounding box.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Detection is one detected object instance in one frame.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"box"`
}

// Frame is a single decoded, sampled video frame. Frames exist only for the
// duration of one job's pipeline run and are owned by the worker executing
// that job.
type Frame struct {
	// Index is the frame's position within the source video, not within the
	// sampled sequence.
	Index  int
	Offset time.Duration
	Width  int
	Height int
	// Data is raw RGB24, Width*Height*3 bytes.
	Data []byte
}

// Detector is the boundary to the external object-detection capability.
// Implementations hold no mutable state across calls beyond the loaded
// capability handle.
type Detector interface {
	Name() string
	Affinity() Affinity
	Detect(ctx context.Context, frame *Frame) ([]Detection, error)
}
