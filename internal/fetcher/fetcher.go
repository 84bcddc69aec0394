// Package fetcher turns a raw page source into extracted crawl results.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
	"github.com/JakeFAU/grqaser-crawler/internal/metrics"
)

// Page is the raw document a Source retrieved.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Source retrieves raw HTML. Non-2xx responses are returned as a Page with
// their status code; only transport failures produce an error.
type Source interface {
	Get(ctx context.Context, url string) (Page, error)
}

// Extractor parses a retrieved page.
type Extractor interface {
	Extract(pageURL string, body []byte, kind crawler.URLKind) (crawler.PageResult, error)
}

// Promoter decides whether a statically fetched page needs a rendered refetch.
type Promoter interface {
	ShouldPromote(statusCode int, body []byte) bool
}

// Scope restricts which URLs may be fetched at all.
type Scope interface {
	AllowFetch(url string) bool
}

// ErrOutOfScope is returned for URLs the Scope rejects; it is never retried.
var ErrOutOfScope = errors.New("url out of scope")

// Options wires the optional collaborators of a PageFetcher.
type Options struct {
	// Fallback renders pages the Promoter flags. Nil disables promotion.
	Fallback Source
	Promoter Promoter
	Scope    Scope
	Logger   *zap.Logger
}

// PageFetcher implements crawler.PageFetcher.
type PageFetcher struct {
	source    Source
	extractor Extractor
	fallback  Source
	promoter  Promoter
	scope     Scope
	logger    *zap.Logger
}

var _ crawler.PageFetcher = (*PageFetcher)(nil)

// New builds a PageFetcher.
func New(source Source, extractor Extractor, opts Options) (*PageFetcher, error) {
	if source == nil {
		return nil, errors.New("page source is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageFetcher{
		source:    source,
		extractor: extractor,
		fallback:  opts.Fallback,
		promoter:  opts.Promoter,
		scope:     opts.Scope,
		logger:    logger.Named("fetcher"),
	}, nil
}

// Fetch retrieves request.URL and extracts candidates and links from it.
func (f *PageFetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.PageResult, error) {
	if f.scope != nil && !f.scope.AllowFetch(request.URL) {
		return crawler.PageResult{}, crawler.Permanent(fmt.Errorf("%s: %w", request.URL, ErrOutOfScope))
	}
	page, err := f.source.Get(ctx, request.URL)
	if err != nil {
		return crawler.PageResult{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	metrics.ObserveFetch("static", page.Duration)

	if f.fallback != nil && f.promoter != nil && f.promoter.ShouldPromote(page.StatusCode, page.Body) {
		rendered, err := f.fallback.Get(ctx, request.URL)
		if err != nil {
			f.logger.Warn("rendered fetch failed; keeping static page",
				zap.String("url", request.URL), zap.Error(err))
		} else {
			metrics.ObserveFetch("headless", rendered.Duration)
			page = rendered
		}
	}

	if err := StatusError(page.StatusCode, request.URL); err != nil {
		return crawler.PageResult{}, err
	}

	pageURL := page.URL
	if pageURL == "" {
		pageURL = request.URL
	}
	result, err := f.extractor.Extract(pageURL, page.Body, request.Kind)
	if err != nil {
		return crawler.PageResult{}, crawler.Permanent(fmt.Errorf("extract %s: %w", request.URL, err))
	}
	result.URL = request.URL
	result.StatusCode = page.StatusCode
	result.Duration = page.Duration
	f.logger.Debug("page fetched",
		zap.String("url", request.URL),
		zap.Int("status", page.StatusCode),
		zap.Int("candidates", len(result.Candidates)),
		zap.Int("detail_urls", len(result.DetailURLs)),
	)
	return result, nil
}

// StatusError classifies an HTTP status. 404 and 410 map to
// crawler.ErrNotFound, 408 and 429 stay transient, other 4xx are permanent and
// 5xx are transient.
func StatusError(code int, url string) error {
	switch {
	case code >= 200 && code < 400:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%s: http %d: %w", url, code, crawler.ErrNotFound)
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return fmt.Errorf("%s: http %d", url, code)
	case code >= 400 && code < 500:
		return crawler.Permanent(fmt.Errorf("%s: http %d", url, code))
	case code == 0:
		return fmt.Errorf("%s: no response status", url)
	default:
		return fmt.Errorf("%s: http %d", url, code)
	}
}
