package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/time/rate"

	"github.com/Iron-Ham/tasktree/internal/logging"
)

// DefaultCurseforgeBaseURL is the public Curseforge API endpoint.
const DefaultCurseforgeBaseURL = "https://api.curseforge.com"

// ErrNoDownloadURL is returned when the API knows the file but exposes no
// download URL for it. Callers treat it as an unresolved lookup.
var ErrNoDownloadURL = errors.New("no download url")

// CurseforgeClient looks up download URLs for Curseforge project files.
type CurseforgeClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

// CurseforgeOption configures a CurseforgeClient.
type CurseforgeOption func(*CurseforgeClient)

// WithAPIKey sets the x-api-key header sent with every request.
func WithAPIKey(key string) CurseforgeOption {
	return func(c *CurseforgeClient) {
		c.apiKey = key
	}
}

// WithRateLimit throttles lookups to rps requests per second with the given
// burst. A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) CurseforgeOption {
	return func(c *CurseforgeClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) CurseforgeOption {
	return func(c *CurseforgeClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithCurseforgeLogger sets the client logger.
func WithCurseforgeLogger(logger *logging.Logger) CurseforgeOption {
	return func(c *CurseforgeClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCurseforgeClient creates a lookup client for baseURL. An empty baseURL
// uses DefaultCurseforgeBaseURL.
func NewCurseforgeClient(baseURL string, opts ...CurseforgeOption) *CurseforgeClient {
	if baseURL == "" {
		baseURL = DefaultCurseforgeBaseURL
	}
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = 30 * time.Second

	c := &CurseforgeClient{
		baseURL: baseURL,
		client:  client,
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type fileResponse struct {
	Data struct {
		ID          int    `json:"id"`
		FileName    string `json:"fileName"`
		DownloadURL string `json:"downloadUrl"`
	} `json:"data"`
}

// FileURL returns the download URL of fileID in projectID.
func (c *CurseforgeClient) FileURL(ctx context.Context, projectID, fileID int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	endpoint := JoinURL(c.baseURL, fmt.Sprintf("v1/mods/%d/files/%d", projectID, fileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup project=%d file=%d: %w", projectID, fileID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: lookup project=%d file=%d returned %d", ErrHTTPStatus, projectID, fileID, resp.StatusCode)
	}

	var body fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if body.Data.DownloadURL == "" {
		c.logger.Debug("file has no download url", "project_id", projectID, "file_id", fileID)
		return "", fmt.Errorf("%w: project=%d file=%d", ErrNoDownloadURL, projectID, fileID)
	}
	return body.Data.DownloadURL, nil
}
