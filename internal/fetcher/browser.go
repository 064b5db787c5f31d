package fetcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/flutter-gis/crawl-scheduler/internal/model"
)

type BrowserFetcher struct {
	cfg     *config.FetcherConfig
	robots  *RobotsChecker
	version string
}

func NewBrowserFetcher(cfg *config.FetcherConfig, robots *RobotsChecker, version string) *BrowserFetcher {
	return &BrowserFetcher{
		cfg:     cfg,
		robots:  robots,
		version: version,
	}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (*model.Page, error) {
	if !f.robots.Allowed(url) {
		return nil, ErrRobotsDisallowed
	}

	startTime := time.Now()
	crawl := &model.Page{
		FullURL:          url,
		FetchMechanism:   model.HeadlessBrowser.String(),
		SchedulerVersion: f.version,
	}
	responseHeaders := make(map[string]interface{}, 20)

	tCtx, cancelTCtx := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancelTCtx()
	bCtx, cancel := chromedp.NewContext(tCtx)
	defer cancel()

	chromedp.ListenTarget(bCtx, func(event interface{}) {
		switch responseReceivedEvent := event.(type) {
		case *network.EventResponseReceived:
			response := responseReceivedEvent.Response
			if response.URL == crawl.FullURL || response.URL == crawl.FullURL+"/" {
				crawl.StatusCode = int(response.Status)
				if len(response.StatusText) > 1000 {
					crawl.Status = response.StatusText[:1000]
				} else {
					crawl.Status = response.StatusText
				}
				responseHeaders = response.Headers
			}
		case *network.EventRequestWillBeSent:
			request := responseReceivedEvent.Request
			if responseReceivedEvent.RedirectResponse != nil {
				crawl.FullURL = request.URL
				slog.Info("redirected.", slog.String("url",
					responseReceivedEvent.RedirectResponse.URL))
			}
		}
	})
	err := chromedp.Run(bCtx,
		chromedp.Tasks{
			network.Enable(),
			network.SetExtraHTTPHeaders(map[string]interface{}{
				"User-Agent": f.cfg.UserAgent,
			}),
			enableLifeCycleEvents(),
			navigateAndWaitFor(crawl.FullURL, "networkIdle"),
		},
		chromedp.Title(&crawl.Title),
		chromedp.ActionFunc(func(ctx context.Context) error {
			rootNode, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			crawl.Body, err = dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
			return err
		}),
	)
	if responseHeaders["ETag"] != nil {
		crawl.ETag = responseHeaders["ETag"].(string)
	}
	if contentType, ok := responseHeaders["Content-Type"].(string); ok {
		crawl.ContentType = contentType
	} else {
		crawl.ContentType = "text/html"
	}
	crawl.ResponseTime = time.Since(startTime)

	return crawl, err
}

// ResetSession is a no-op: every fetch runs in its own browser context, so
// there is no pooled session to drop.
func (f *BrowserFetcher) ResetSession() {}

func enableLifeCycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		err := page.Enable().Do(ctx)
		if err != nil {
			return err
		}
		err = page.SetLifecycleEventsEnabled(true).Do(ctx)
		if err != nil {
			return err
		}
		return nil
	}
}

func navigateAndWaitFor(url string, eventName string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		_, _, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		return waitFor(ctx, eventName)
	}
}

func waitFor(ctx context.Context, eventName string) error {
	ch := make(chan struct{})
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	chromedp.ListenTarget(cctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventLifecycleEvent:
			if e.Name == eventName {
				cancel()
				close(ch)
			}
		}
	})
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
