// Package decode turns a local video file into a lazy, finite sequence of
// sampled frames. Decoding runs in an ffmpeg subprocess emitting raw RGB24 on
// stdout; frames are consumed one at a time so peak memory stays bounded
// regardless of video length.
package decode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strings"
	"time"

	"github.com/rbalaji/peoplecounter/internal/config"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

// Open probes the file and starts a decoder that samples one frame per
// stride source frames. The returned sequence must be consumed exactly once
// and closed on every exit path.
func Open(ctx context.Context, path string, cfg config.DecodeConfig) (*FrameSeq, error) {
	info, err := probe(ctx, cfg.FFprobePath, path)
	if err != nil {
		return nil, err
	}

	stride := strideFor(info.FPS, cfg.SampleInterval)

	cmd := exec.CommandContext(ctx, cfg.FFmpegPath,
		"-v", "error",
		"-i", path,
		"-vf", fmt.Sprintf("select='not(mod(n,%d))'", stride),
		"-vsync", "vfr",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, models.WrapJobError(models.ErrKindInternal, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, models.NewJobError(models.ErrKindUnreadableMedia, "start decoder: %v", err)
	}

	finish := func() error {
		if err := cmd.Wait(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			return fmt.Errorf("%s", msg)
		}
		return nil
	}

	seq := newFrameSeq(stdout, finish, info.Width, info.Height, stride, info.FPS)
	seq.kill = func() { _ = cmd.Process.Kill() }
	return seq, nil
}

// strideFor converts a wall-clock sampling interval into a source-frame
// stride, never below 1.
func strideFor(fps float64, interval time.Duration) int {
	if fps <= 0 {
		return 1
	}
	stride := int(math.Floor(fps * interval.Seconds()))
	if stride < 1 {
		return 1
	}
	return stride
}

// FrameSeq is a lazy, finite, consume-once sequence of sampled frames.
type FrameSeq struct {
	r      io.Reader
	finish func() error
	kill   func()

	width   int
	height  int
	stride  int
	fps     float64
	sampled int
	done    bool
}

func newFrameSeq(r io.Reader, finish func() error, width, height, stride int, fps float64) *FrameSeq {
	return &FrameSeq{
		r:      r,
		finish: finish,
		width:  width,
		height: height,
		stride: stride,
		fps:    fps,
	}
}

// Next returns the next sampled frame, or io.EOF once the sequence is
// exhausted. A stream that dies mid-frame or a decoder that exits nonzero is
// TruncatedMedia: partial output never counts as success.
func (s *FrameSeq) Next() (*models.Frame, error) {
	if s.done {
		return nil, io.EOF
	}

	data := make([]byte, s.width*s.height*3)
	_, err := io.ReadFull(s.r, data)
	switch {
	case err == io.EOF:
		s.done = true
		if s.finish != nil {
			if werr := s.finish(); werr != nil {
				return nil, models.NewJobError(models.ErrKindTruncatedMedia,
					"decoder exited abnormally: %v", werr)
			}
		}
		return nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		s.done = true
		if s.finish != nil {
			_ = s.finish()
		}
		return nil, models.NewJobError(models.ErrKindTruncatedMedia,
			"stream ended mid-frame after %d sampled frames", s.sampled)
	case err != nil:
		s.done = true
		return nil, models.WrapJobError(models.ErrKindTruncatedMedia, err)
	}

	sourceIndex := s.sampled * s.stride
	frame := &models.Frame{
		Index:  sourceIndex,
		Offset: offsetFor(sourceIndex, s.fps),
		Width:  s.width,
		Height: s.height,
		Data:   data,
	}
	s.sampled++
	return frame, nil
}

func offsetFor(sourceIndex int, fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(sourceIndex) / fps * float64(time.Second))
}

// Sampled reports how many frames have been produced so far.
func (s *FrameSeq) Sampled() int { return s.sampled }

// Close tears the decoder down. Safe after EOF; required on early exit.
func (s *FrameSeq) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	if s.kill != nil {
		s.kill()
	}
	if s.finish != nil {
		_ = s.finish()
	}
	return nil
}
