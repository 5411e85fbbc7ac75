package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/rbalaji/peoplecounter/internal/config"
	"github.com/rbalaji/peoplecounter/internal/decode"
	"github.com/rbalaji/peoplecounter/internal/fetch"
	"github.com/rbalaji/peoplecounter/internal/metrics"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

// Runner executes one job's pipeline to completion, returning the final
// people count or a classified error.
type Runner interface {
	Run(ctx context.Context, job *models.Job) (int, error)
}

// frameSource is the slice of the decoder the pipeline consumes.
type frameSource interface {
	Next() (*models.Frame, error)
	Close() error
}

// Pipeline is the ordered sequence fetch -> decode -> detect -> aggregate,
// executed once per job. Stages for one job run sequentially; only different
// jobs run in parallel.
type Pipeline struct {
	fetcher     fetch.Fetcher
	openDecoder func(ctx context.Context, path string) (frameSource, error)
	detector    models.Detector
	label       string
	minConf     float64
	metrics     *metrics.Registry
}

func NewPipeline(fetcher fetch.Fetcher, decodeCfg config.DecodeConfig, detector models.Detector,
	detectorCfg config.DetectorConfig, reg *metrics.Registry) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		openDecoder: func(ctx context.Context, path string) (frameSource, error) {
			return decode.Open(ctx, path, decodeCfg)
		},
		detector: detector,
		label:    detectorCfg.TargetLabel,
		minConf:  detectorCfg.ConfidenceThreshold,
		metrics:  reg,
	}
}

func (p *Pipeline) Run(ctx context.Context, job *models.Job) (int, error) {
	fetchStart := time.Now()
	path, cleanup, err := p.fetcher.Fetch(ctx, job.VideoReference)
	if err != nil {
		return 0, err
	}
	defer cleanup()
	p.metrics.ObserveStage("fetch", time.Since(fetchStart))

	decodeStart := time.Now()
	frames, err := p.openDecoder(ctx, path)
	if err != nil {
		return 0, err
	}
	defer frames.Close()

	agg := NewAggregator(p.label, p.minConf)
	sampled := 0
	var detectTotal time.Duration

	// Decode and infer frame by frame; the full frame set is never held in
	// memory.
	for {
		frame, err := frames.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}

		detectStart := time.Now()
		detections, err := p.detector.Detect(ctx, frame)
		if err != nil {
			return 0, err
		}
		detectTotal += time.Since(detectStart)

		agg.Observe(detections)
		sampled++
	}

	p.metrics.ObserveStage("decode", time.Since(decodeStart)-detectTotal)
	p.metrics.ObserveStage("detect", detectTotal)

	slog.Info("pipeline finished",
		"job_id", job.ID,
		"sampled_frames", sampled,
		"people_count", agg.Count(),
	)
	return agg.Count(), nil
}

// Compile-time check that Pipeline implements Runner.
var _ Runner = (*Pipeline)(nil)
