package fetch

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Iron-Ham/tasktree/internal/logging"
	"github.com/Iron-Ham/tasktree/internal/metrics"
)

// Defaults for HTTPDownloader.
const (
	DefaultRetryMax = 3
	DefaultTimeout  = 2 * time.Minute
)

// ErrHTTPStatus is returned when the server answers with a non-2xx status.
var ErrHTTPStatus = errors.New("unexpected http status")

// Request describes one file download.
type Request struct {
	URL         string
	Destination string

	// Validator, when set, must match the downloaded content. An existing
	// destination that already matches is kept without downloading.
	Validator *Validator

	// Progress is called with bytes written so far and the expected size
	// (-1 when the server sent no length).
	Progress func(done, total int64)
}

// HTTPDownloader fetches files over HTTP with retries.
type HTTPDownloader struct {
	client  *retryablehttp.Client
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// DownloaderOption configures an HTTPDownloader.
type DownloaderOption func(*HTTPDownloader)

// WithRetryMax sets how many times a failed request is retried.
func WithRetryMax(n int) DownloaderOption {
	return func(d *HTTPDownloader) {
		d.client.RetryMax = n
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) DownloaderOption {
	return func(d *HTTPDownloader) {
		d.client.HTTPClient.Timeout = timeout
	}
}

// WithRetryWait sets the backoff bounds between retries.
func WithRetryWait(min, max time.Duration) DownloaderOption {
	return func(d *HTTPDownloader) {
		d.client.RetryWaitMin = min
		d.client.RetryWaitMax = max
	}
}

// WithDownloadLogger sets the logger used for request and retry records.
func WithDownloadLogger(logger *logging.Logger) DownloaderOption {
	return func(d *HTTPDownloader) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDownloadMetrics counts downloaded bytes on m.
func WithDownloadMetrics(m *metrics.Metrics) DownloaderOption {
	return func(d *HTTPDownloader) {
		d.metrics = m
	}
}

// NewHTTPDownloader creates a downloader backed by a retrying HTTP client.
func NewHTTPDownloader(opts ...DownloaderOption) *HTTPDownloader {
	client := retryablehttp.NewClient()
	client.RetryMax = DefaultRetryMax
	client.HTTPClient.Timeout = DefaultTimeout

	d := &HTTPDownloader{
		client: client,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.client.Logger = d.logger.WithComponent("http")
	return d
}

// Download fetches req.URL into req.Destination. Content is written to a
// temporary file next to the destination and renamed into place only
// after validation succeeds.
func (d *HTTPDownloader) Download(ctx context.Context, req Request) error {
	if req.Validator != nil {
		if err := req.Validator.VerifyFile(req.Destination); err == nil {
			d.logger.Debug("download skipped, destination valid", "url", req.URL, "destination", req.Destination)
			return nil
		}
	}

	dir := filepath.Dir(req.Destination)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", req.URL, err)
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d", ErrHTTPStatus, req.URL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	var hasher hash.Hash
	var dst io.Writer = tmp
	if req.Validator != nil {
		if hasher, err = req.Validator.NewHash(); err != nil {
			_ = tmp.Close()
			return err
		}
		dst = io.MultiWriter(tmp, hasher)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = -1
	}
	n, err := io.Copy(&progressWriter{w: dst, total: total, fn: req.Progress}, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", req.Destination, err)
	}

	if hasher != nil {
		if err := req.Validator.Check(hasher.Sum(nil)); err != nil {
			return fmt.Errorf("%s: %w", req.URL, err)
		}
	}
	if err := os.Rename(tmpPath, req.Destination); err != nil {
		return fmt.Errorf("failed to move download into %s: %w", req.Destination, err)
	}
	committed = true

	d.metrics.Downloaded(n)
	d.logger.Debug("downloaded", "url", req.URL, "destination", req.Destination, "bytes", n)
	return nil
}

// progressWriter reports cumulative bytes after each write.
type progressWriter struct {
	w     io.Writer
	done  int64
	total int64
	fn    func(done, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.done, p.total)
	}
	return n, err
}
