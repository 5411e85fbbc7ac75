package detect

import (
	"context"

	"golang.org/x/sync/semaphore"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

// Limited serializes detector invocations when the underlying capability is
// not safe for unbounded concurrent use. This limit is independent of the
// worker pool size: workers queue here only for the detect stage.
type Limited struct {
	inner models.Detector
	sem   *semaphore.Weighted
}

func NewLimited(d models.Detector, maxConcurrency int64) *Limited {
	return &Limited{inner: d, sem: semaphore.NewWeighted(maxConcurrency)}
}

func (l *Limited) Name() string              { return l.inner.Name() }
func (l *Limited) Affinity() models.Affinity { return l.inner.Affinity() }

func (l *Limited) Detect(ctx context.Context, frame *models.Frame) ([]models.Detection, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, models.WrapJobError(models.ErrKindTimeout, err)
	}
	defer l.sem.Release(1)
	return l.inner.Detect(ctx, frame)
}

// Compile-time check that Limited implements Detector.
var _ models.Detector = (*Limited)(nil)
