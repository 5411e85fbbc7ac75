// Package httpinfer talks to an external inference server over HTTP. The
// server owns the model; this adapter only ships frames and parses
// detections.
package httpinfer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/rbalaji/peoplecounter/internal/config"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

// Provider implements models.Detector against an HTTP inference server.
type Provider struct {
	baseURL  string
	client   *http.Client
	model    string
	affinity models.Affinity
}

// NewProvider probes the inference server's model endpoint and fixes the
// execution affinity for the life of the process.
func NewProvider(ctx context.Context, cfg config.DetectorConfig) (*Provider, error) {
	p := &Provider{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/model", nil)
	if err != nil {
		return nil, fmt.Errorf("building model probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probing inference server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference server not ready: status %d", resp.StatusCode)
	}

	var info struct {
		Model  string `json:"model"`
		Device string `json:"device"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding model info: %w", err)
	}

	p.model = info.Model
	p.affinity = models.AffinityCPU
	if strings.Contains(info.Device, "cuda") || strings.Contains(info.Device, "gpu") {
		p.affinity = models.AffinityAccelerated
	}
	slog.Info("detector initialized", "model", p.model, "device", info.Device, "affinity", p.affinity)
	return p, nil
}

func (p *Provider) Name() string              { return "httpinfer" }
func (p *Provider) Affinity() models.Affinity { return p.affinity }

type detectRequest struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	PixFmt    string `json:"pix_fmt"`
	FrameData string `json:"frame_data"`
}

type detectResponse struct {
	Detections []models.Detection `json:"detections"`
}

// Detect runs one frame through the inference server. A transient backend
// failure is retried once; a rejection of the frame itself is fatal to the
// job.
func (p *Provider) Detect(ctx context.Context, frame *models.Frame) ([]models.Detection, error) {
	dets, err := p.detectOnce(ctx, frame)
	if err != nil && models.KindOf(err).Retryable() {
		slog.Warn("transient detection error, retrying once", "frame", frame.Index, "error", err)
		dets, err = p.detectOnce(ctx, frame)
	}
	if err != nil {
		return nil, err
	}
	return dets, nil
}

func (p *Provider) detectOnce(ctx context.Context, frame *models.Frame) ([]models.Detection, error) {
	if frame == nil || len(frame.Data) != frame.Width*frame.Height*3 {
		return nil, models.NewJobError(models.ErrKindDetection, "malformed frame input")
	}

	body, err := json.Marshal(detectRequest{
		Width:     frame.Width,
		Height:    frame.Height,
		PixFmt:    "rgb24",
		FrameData: base64.StdEncoding.EncodeToString(frame.Data),
	})
	if err != nil {
		return nil, models.WrapJobError(models.ErrKindInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/detect", bytes.NewReader(body))
	if err != nil {
		return nil, models.WrapJobError(models.ErrKindInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, models.WrapJobError(models.ErrKindTimeout, err)
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, models.WrapJobError(models.ErrKindTransientIO, err)
		}
		return nil, models.WrapJobError(models.ErrKindTransientIO, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		// Backend exhaustion is transient; the caller retries once.
		return nil, models.NewJobError(models.ErrKindTransientIO,
			"inference server returned status %d", resp.StatusCode)
	default:
		return nil, models.NewJobError(models.ErrKindDetection,
			"inference server rejected frame %d: status %d", frame.Index, resp.StatusCode)
	}

	var parsed detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, models.NewJobError(models.ErrKindDetection, "invalid inference response: %v", err)
	}
	return parsed.Detections, nil
}

// Compile-time check that Provider implements Detector.
var _ models.Detector = (*Provider)(nil)
