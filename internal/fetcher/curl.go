package fetcher

import (
	"context"
	"net/http"
	"time"

	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/flutter-gis/crawl-scheduler/internal/model"
	"github.com/gocolly/colly"
)

type CurlFetcher struct {
	cfg       *config.FetcherConfig
	transport *http.Transport
	robots    *RobotsChecker
	version   string
}

func NewCurlFetcher(cfg *config.FetcherConfig, transport *http.Transport, robots *RobotsChecker,
	version string) *CurlFetcher {
	return &CurlFetcher{
		cfg:       cfg,
		transport: transport,
		robots:    robots,
		version:   version,
	}
}

func (f *CurlFetcher) Fetch(_ context.Context, url string) (*model.Page, error) {
	if !f.robots.Allowed(url) {
		return nil, ErrRobotsDisallowed
	}

	page := &model.Page{
		FullURL:          url,
		FetchMechanism:   model.Curl.String(),
		SchedulerVersion: f.version,
	}

	c := colly.NewCollector()
	c.WithTransport(f.transport)
	c.SetRequestTimeout(f.cfg.FetchTimeout)
	c.UserAgent = f.cfg.UserAgent

	c.OnResponse(func(resp *colly.Response) {
		page.Body = string(resp.Body)
		page.ContentType = resp.Headers.Get("Content-Type")
		page.ETag = resp.Headers.Get("ETag")
	})
	c.OnHTML("title", func(e *colly.HTMLElement) {
		page.Title = e.Text
	})

	c.OnError(func(r *colly.Response, err error) {
		page.StatusCode = -1
		if len(err.Error()) > 1000 {
			page.Status = err.Error()[:1000]
		} else {
			page.Status = err.Error()
		}
	})

	t := time.Now()
	err := c.Visit(url)
	page.ResponseTime = time.Since(t)
	if err != nil {
		return page, err
	}
	page.StatusCode = http.StatusOK
	page.Status = http.StatusText(http.StatusOK)

	return page, nil
}

// ResetSession drops the pooled connections. The health monitor calls this
// during memory and failure recovery.
func (f *CurlFetcher) ResetSession() {
	f.transport.CloseIdleConnections()
}
