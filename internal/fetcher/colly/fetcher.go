// Package collyfetcher retrieves static pages with gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
	"github.com/JakeFAU/grqaser-crawler/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Logger        *zap.Logger
}

// Source implements fetcher.Source using the Colly collector.
type Source struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

var _ fetcher.Source = (*Source)(nil)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Source.
func New(cfg Config) *Source {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	transport := newHTTPTransport()
	c.WithTransport(transport)
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger.Named("colly"),
	}
}

// Get executes a single HTTP GET using Colly.
func (s *Source) Get(ctx context.Context, url string) (fetcher.Page, error) {
	var (
		page     fetcher.Page
		fetchErr error
	)
	collector, robots := s.buildCollector(time.Now(), &page, &fetchErr)
	if err := s.runCollector(ctx, collector, url, &page, &fetchErr); err != nil {
		return fetcher.Page{}, err
	}
	if robots != nil && robots.unreachable {
		s.logger.Warn("robots.txt unreachable; crawling as allowed",
			zap.String("url", url), zap.String("reason", robots.reason))
	}
	return page, nil
}

func (s *Source) buildCollector(start time.Time, page *fetcher.Page, fetchErr *error) (*colly.Collector, *robotsProbe) {
	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !s.cfg.RespectRobots
	timeout := s.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var robots *robotsProbe
	if s.cfg.RespectRobots {
		robots = newRobotsProbe()
		collector.WithTransport(&robotsTransport{base: s.transport, probe: robots})
	} else {
		collector.WithTransport(s.transport)
	}

	configureCollectorHooks(collector, start, page, fetchErr)
	return collector, robots
}

// configureCollectorHooks records the response, including error statuses.
// Colly reports non-2xx responses through OnError; those still carry a status
// the caller classifies, so only responses without one count as failures.
func configureCollectorHooks(hooks collectorHooks, start time.Time, page *fetcher.Page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*page = pageFromResponse(r, start)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*page = pageFromResponse(r, start)
			return
		}
		*fetchErr = err
	})
}

func pageFromResponse(r *colly.Response, start time.Time) fetcher.Page {
	page := fetcher.Page{
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(start),
	}
	if r.Request != nil && r.Request.URL != nil {
		page.URL = r.Request.URL.String()
	}
	return page
}

func (s *Source) runCollector(ctx context.Context, collector *colly.Collector, url string, page *fetcher.Page, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		// Visit also fails for error statuses; OnError has captured those.
		if page.StatusCode != 0 {
			return nil
		}
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return crawler.Permanent(fmt.Errorf("colly visit: %w", err))
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return errors.New("colly returned no response")
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
