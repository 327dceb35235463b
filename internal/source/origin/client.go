package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"postgarden/internal/domain"
)

const manifestLimit = 1 << 20

// HTTPClient is the transport used to reach the origin.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds origin client configuration.
type Config struct {
	BaseURL         string
	ManifestPath    string
	Timeout         time.Duration
	MaxArchiveBytes int64
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

// Client fetches manifests and archives from the static origin.
type Client struct {
	httpClient      HTTPClient
	baseURL         string
	manifestPath    string
	channels        []domain.Channel
	maxArchiveBytes int64
	maxAttempts     int
	initialBackoff  time.Duration
	maxBackoff      time.Duration
	logger          *slog.Logger
}

// New creates an origin client. A nil httpClient gets a default one honoring cfg.Timeout.
func New(cfg Config, channels []domain.Channel, httpClient HTTPClient, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Client{
		httpClient:      httpClient,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		manifestPath:    strings.TrimLeft(cfg.ManifestPath, "/"),
		channels:        channels,
		maxArchiveBytes: cfg.MaxArchiveBytes,
		maxAttempts:     cfg.MaxAttempts,
		initialBackoff:  cfg.InitialBackoff,
		maxBackoff:      cfg.MaxBackoff,
		logger:          logger.With("component", "origin"),
	}
}

// FetchManifest downloads and parses the remote manifest.
func (c *Client) FetchManifest(ctx context.Context) (domain.Manifest, error) {
	body, err := c.get(ctx, c.baseURL+"/"+c.manifestPath, manifestLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	return decodeManifest(body, c.channels)
}

// FetchArchive downloads the archive addressed by identifier.
func (c *Client) FetchArchive(ctx context.Context, identifier string) ([]byte, error) {
	if identifier == "" || strings.Contains(identifier, "..") {
		return nil, fmt.Errorf("%w: invalid archive identifier %q", domain.ErrParse, identifier)
	}
	body, err := c.get(ctx, c.baseURL+"/"+url.PathEscape(identifier), c.maxArchiveBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch archive %s: %w", identifier, err)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, target string, limit int64) ([]byte, error) {
	var body []byte
	var err error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		body, err = c.doRequest(ctx, target, limit)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, errTooLarge) || attempt == c.maxAttempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("request failed, retrying",
			"url", target,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", domain.ErrTransientNetwork, ctx.Err())
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("%w: after %d attempts: %w", domain.ErrTransientNetwork, c.maxAttempts, err)
}

var errTooLarge = errors.New("response exceeds size limit")

func (c *Client) doRequest(ctx context.Context, target string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", "PostGarden/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	reader := resp.Body
	if limit > 0 {
		reader = io.NopCloser(io.LimitReader(resp.Body, limit+1))
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, errTooLarge
	}
	return body, nil
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}
