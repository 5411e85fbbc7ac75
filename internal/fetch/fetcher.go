// Package fetch resolves a video reference (s3:// URI or HTTPS URL) to a
// local temporary file for the decode stage.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rbalaji/peoplecounter/internal/config"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

// Fetcher materializes a video reference as a local file. The returned
// cleanup must be called on every exit path, including cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, reference string) (path string, cleanup func(), err error)
}

// ValidateReference checks that a reference parses and uses a supported
// scheme. Submission calls this synchronously so an invalid reference never
// occupies a worker slot.
func ValidateReference(reference string) error {
	if reference == "" {
		return models.NewJobError(models.ErrKindInvalidReference, "video_reference is empty")
	}
	u, err := url.Parse(reference)
	if err != nil {
		return models.NewJobError(models.ErrKindInvalidReference, "video_reference is not a valid URI: %v", err)
	}
	switch u.Scheme {
	case "s3":
		if u.Host == "" || u.Path == "" || u.Path == "/" {
			return models.NewJobError(models.ErrKindInvalidReference,
				"s3 reference must look like s3://bucket/key, got %q", reference)
		}
	case "http", "https":
		if u.Host == "" {
			return models.NewJobError(models.ErrKindInvalidReference,
				"URL reference has no host: %q", reference)
		}
	case "":
		return models.NewJobError(models.ErrKindInvalidReference, "video_reference has no scheme: %q", reference)
	default:
		return models.NewJobError(models.ErrKindUnsupportedScheme,
			"unsupported scheme %q: only s3:// and https:// references are accepted", u.Scheme)
	}
	return nil
}

// Downloader fetches via HTTPS directly, and via the S3 API for s3://
// references. Transient failures are retried with exponential backoff.
type Downloader struct {
	httpClient  *http.Client
	s3          objectFetcher
	maxAttempts int
	baseBackoff time.Duration
	maxBytes    int64
}

// objectFetcher is the piece of the S3 surface the downloader needs; nil
// when no credentials could be resolved at startup.
type objectFetcher interface {
	download(ctx context.Context, bucket, key string, dst *os.File) error
}

// NewDownloader builds a Downloader. S3 support is enabled only when ambient
// credentials resolve; HTTPS references work either way.
func NewDownloader(ctx context.Context, cfg config.FetchConfig) *Downloader {
	d := &Downloader{
		httpClient:  &http.Client{Timeout: cfg.HTTPTimeout},
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: 500 * time.Millisecond,
		maxBytes:    cfg.MaxVideoSize,
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = 3
	}

	s3f, err := newS3Fetcher(ctx, cfg.S3Region)
	if err != nil {
		slog.Warn("s3 credentials not resolved; s3:// references will fail", "error", err)
		return d
	}
	d.s3 = s3f
	return d
}

func (d *Downloader) Fetch(ctx context.Context, reference string) (string, func(), error) {
	if err := ValidateReference(reference); err != nil {
		return "", func() {}, err
	}

	u, _ := url.Parse(reference)

	tmp, err := os.CreateTemp("", "peoplecounter-*.mp4")
	if err != nil {
		return "", func() {}, models.WrapJobError(models.ErrKindInternal, err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	var fetchErr error
	switch u.Scheme {
	case "s3":
		fetchErr = d.fetchS3(ctx, u, tmp)
	default:
		fetchErr = d.fetchHTTP(ctx, reference, tmp)
	}
	tmp.Close()

	if fetchErr != nil {
		cleanup()
		return "", func() {}, fetchErr
	}
	return tmp.Name(), cleanup, nil
}

func (d *Downloader) fetchS3(ctx context.Context, u *url.URL, dst *os.File) error {
	if d.s3 == nil {
		return models.NewJobError(models.ErrKindCredentialsMissing,
			"no AWS credentials available for %s", u.Redacted())
	}
	bucket := u.Host
	key := u.Path[1:]

	return d.withRetries(ctx, func() error {
		if _, err := dst.Seek(0, io.SeekStart); err != nil {
			return models.WrapJobError(models.ErrKindInternal, err)
		}
		return d.s3.download(ctx, bucket, key, dst)
	})
}

func (d *Downloader) fetchHTTP(ctx context.Context, reference string, dst *os.File) error {
	return d.withRetries(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reference, nil)
		if err != nil {
			return models.WrapJobError(models.ErrKindInvalidReference, err)
		}

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return classifyTransportError(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusNotFound:
			return models.NewJobError(models.ErrKindNotFound, "remote object not found: %s", reference)
		case resp.StatusCode >= 500:
			return models.NewJobError(models.ErrKindTransientIO, "remote returned status %d", resp.StatusCode)
		default:
			return models.NewJobError(models.ErrKindNotFound,
				"remote returned status %d for %s", resp.StatusCode, reference)
		}

		if _, err := dst.Seek(0, io.SeekStart); err != nil {
			return models.WrapJobError(models.ErrKindInternal, err)
		}
		if err := dst.Truncate(0); err != nil {
			return models.WrapJobError(models.ErrKindInternal, err)
		}

		n, err := io.Copy(dst, io.LimitReader(resp.Body, d.maxBytes+1))
		if err != nil {
			return classifyTransportError(err)
		}
		if d.maxBytes > 0 && n > d.maxBytes {
			return models.NewJobError(models.ErrKindInvalidReference,
				"video exceeds maximum size of %d bytes", d.maxBytes)
		}
		return nil
	})
}

// withRetries runs fn up to maxAttempts times, backing off exponentially
// between attempts. Only transient errors are retried.
func (d *Downloader) withRetries(ctx context.Context, fn func() error) error {
	var err error
	backoff := d.baseBackoff
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err = fn()
		if err == nil || !models.KindOf(err).Retryable() {
			return err
		}
		if attempt == d.maxAttempts {
			break
		}
		slog.Warn("transient fetch error, retrying",
			"attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return models.WrapJobError(models.ErrKindTransientIO, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("fetch failed after %d attempts: %w", d.maxAttempts, err)
}

// classifyTransportError maps transport-level failures onto the error
// taxonomy. Timeouts and connection resets are transient.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.WrapJobError(models.ErrKindTransientIO, err)
	}
	if errors.Is(err, context.Canceled) {
		return models.WrapJobError(models.ErrKindTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.WrapJobError(models.ErrKindTransientIO, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return models.WrapJobError(models.ErrKindTransientIO, err)
	}

	return models.WrapJobError(models.ErrKindTransientIO, err)
}

// Compile-time check that Downloader implements Fetcher.
var _ Fetcher = (*Downloader)(nil)
