package decode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rbalaji/peoplecounter/pkg/models"
)

// probeInfo is the container metadata needed to size raw frames and derive
// the sampling stride.
type probeInfo struct {
	Width  int
	Height int
	FPS    float64
}

// probe runs ffprobe against the file and parses the first video stream.
// Any failure to open or parse the container is UnreadableMedia.
func probe(ctx context.Context, ffprobePath, path string) (probeInfo, error) {
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate",
		"-of", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return probeInfo{}, models.NewJobError(models.ErrKindUnreadableMedia, "probe failed: %s", msg)
	}
	return parseProbeOutput(out)
}

type ffprobeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

func parseProbeOutput(out []byte) (probeInfo, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return probeInfo{}, models.NewJobError(models.ErrKindUnreadableMedia, "unparseable probe output: %v", err)
	}
	if len(parsed.Streams) == 0 {
		return probeInfo{}, models.NewJobError(models.ErrKindUnreadableMedia, "no video stream found")
	}

	s := parsed.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return probeInfo{}, models.NewJobError(models.ErrKindUnreadableMedia,
			"invalid dimensions %dx%d", s.Width, s.Height)
	}

	fps, err := parseFrameRate(s.AvgFrameRate)
	if err != nil {
		return probeInfo{}, models.NewJobError(models.ErrKindUnreadableMedia,
			"invalid frame rate %q: %v", s.AvgFrameRate, err)
	}

	return probeInfo{Width: s.Width, Height: s.Height, FPS: fps}, nil
}

// parseFrameRate parses ffprobe's rational frame rate, e.g. "30000/1001".
func parseFrameRate(r string) (float64, error) {
	num, den, found := strings.Cut(r, "/")
	if !found {
		return strconv.ParseFloat(r, 64)
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, fmt.Errorf("zero denominator")
	}
	return n / d, nil
}
