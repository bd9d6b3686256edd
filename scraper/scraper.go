// Package scraper fetches article pages and extracts their metadata.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/burugo/linkcheck"
)

const (
	defaultUserAgent = "NewsVerifier/1.0"
	// maxBodyBytes caps the page size read from a remote server.
	maxBodyBytes = 5 << 20
)

// Scraper implements linkcheck.Scraper over HTTP.
type Scraper struct {
	client     *http.Client
	userAgent  string
	maxRetries uint64
	logger     *zap.Logger
}

var _ linkcheck.Scraper = (*Scraper)(nil)

// New builds a Scraper from cfg. client may be nil.
func New(cfg linkcheck.ScraperConfig, client *http.Client, logger *zap.Logger) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Scraper{
		client:     client,
		userAgent:  ua,
		maxRetries: cfg.MaxRetries,
		logger:     logger.Named("scraper"),
	}
}

// Scrape fetches rawURL and extracts title, content, author and publication
// date. Fetch failures are reported in ScrapedArticle.Error; the error return
// is only used when ctx ends.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (*linkcheck.ScrapedArticle, error) {
	article := &linkcheck.ScrapedArticle{URL: rawURL}
	u, err := url.Parse(rawURL)
	if err != nil {
		article.Error = fmt.Sprintf("Scraping error: %v", err)
		return article, nil
	}
	article.SourceDomain = u.Host

	start := time.Now()
	doc, err := s.fetch(ctx, rawURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var httpErr *statusError
		if errors.As(err, &httpErr) || isTransportError(err) {
			article.Error = fmt.Sprintf("HTTP error: %v", err)
		} else {
			article.Error = fmt.Sprintf("Scraping error: %v", err)
		}
		s.logger.Info("scrape failed", zap.String("url", rawURL), zap.Duration("took", time.Since(start)), zap.Error(err))
		return article, nil
	}

	article.Title = optional(extractTitle(doc))
	article.Author = optional(extractAuthor(doc))
	article.PublishedAt = extractPublishedAt(doc)
	// Content extraction strips boilerplate nodes, so it runs last.
	article.Content = optional(extractContent(doc))
	s.logger.Debug("scraped", zap.String("url", rawURL), zap.Duration("took", time.Since(start)))
	return article, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.code, http.StatusText(e.code))
}

func isTransportError(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// fetch GETs rawURL, retrying transport errors and 5xx responses with
// exponential backoff. Other 4xx responses are not retried.
func (s *Scraper) fetch(ctx context.Context, rawURL string) (*html.Node, error) {
	var doc *html.Node
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", s.userAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.5")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			serr := &statusError{code: resp.StatusCode}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return serr
			}
			return backoff.Permanent(serr)
		}
		parsed, err := html.Parse(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return backoff.Permanent(err)
		}
		doc = parsed
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx),
		func(err error, wait time.Duration) {
			s.logger.Debug("retrying fetch", zap.String("url", rawURL), zap.Duration("wait", wait), zap.Error(err))
		})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
