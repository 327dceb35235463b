// Package summary fills missing item previews from the linked article page.
package summary

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"postgarden/internal/domain"
)

const (
	NoPreview          = "No preview available."
	PreviewUnavailable = "Preview unavailable."

	maxSentences = 3
	maxWords     = 50
	maxPageBytes = 2 << 20

	userAgent = "Mozilla/5.0 (compatible; postgarden/1.0)"
)

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// HTTPClient is the subset of *http.Client used to fetch pages.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	Timeout time.Duration
	Workers int
}

// Enricher fetches previews for report items that carry none.
type Enricher struct {
	client  HTTPClient
	timeout time.Duration
	workers int
	logger  *slog.Logger
}

func New(cfg Config, client HTTPClient, logger *slog.Logger) *Enricher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Enricher{
		client:  client,
		timeout: cfg.Timeout,
		workers: cfg.Workers,
		logger:  logger.With("component", "summary"),
	}
}

// Enrich sets Summary on every item that has an original title, a source URL
// and no summary yet. It reports whether any item changed.
func (e *Enricher) Enrich(ctx context.Context, report *domain.Report) (bool, error) {
	var targets []int
	for i, it := range report.News {
		if it.Summary == "" && it.OriginalTitle != "" && it.SourceURL != "" {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		return false, nil
	}

	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, i := range targets {
		url := report.News[i].SourceURL
		g.Go(func() error {
			report.News[i].Summary = e.Fetch(ctx, url)
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Debug("previews fetched", "items", len(targets))
	return true, nil
}

// Fetch returns the trimmed preview for url, or one of the fallback texts.
func (e *Enricher) Fetch(ctx context.Context, url string) string {
	text, err := e.extract(ctx, url)
	if err != nil {
		e.logger.Debug("preview fetch failed", "url", url, "error", err)
		return PreviewUnavailable
	}
	if text == "" {
		return NoPreview
	}
	return Trim(text)
}

func (e *Enricher) extract(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		if desc = strings.TrimSpace(desc); desc != "" {
			return desc, nil
		}
	}
	return strings.TrimSpace(doc.Find("p").First().Text()), nil
}

// Trim keeps the first three sentences of text, or failing that the first
// fifty words followed by an ellipsis.
func Trim(text string) string {
	text = strings.TrimSpace(text)

	bounds := sentenceEnd.FindAllStringIndex(text, -1)
	if len(bounds) >= maxSentences {
		return text[:bounds[maxSentences-1][0]+1]
	}

	words := strings.Fields(text)
	if len(words) > maxWords {
		return strings.Join(words[:maxWords], " ") + "..."
	}
	return text
}
