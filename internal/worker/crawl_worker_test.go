package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/flutter-gis/crawl-scheduler/internal/cache"
	"github.com/flutter-gis/crawl-scheduler/internal/extractor"
	"github.com/flutter-gis/crawl-scheduler/internal/frontier"
	"github.com/flutter-gis/crawl-scheduler/internal/gate"
	"github.com/flutter-gis/crawl-scheduler/internal/health"
	"github.com/flutter-gis/crawl-scheduler/internal/model"
	"github.com/flutter-gis/crawl-scheduler/internal/persistence"
	"github.com/flutter-gis/crawl-scheduler/internal/politeness"
	"github.com/flutter-gis/crawl-scheduler/internal/telemetry"
)

type fakeFetcher struct {
	mu      sync.Mutex
	fetched []string
	failing map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*model.Page, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()
	if err, ok := f.failing[url]; ok {
		return nil, err
	}
	return &model.Page{
		FullURL:      url,
		ContentType:  "text/html",
		StatusCode:   200,
		Status:       "200 OK",
		ResponseTime: time.Millisecond,
	}, nil
}

func (f *fakeFetcher) ResetSession() {}

func (f *fakeFetcher) calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fetched := range f.fetched {
		if fetched == url {
			n++
		}
	}
	return n
}

// fakeExtractor maps a page url to the links it "contains".
type fakeExtractor map[string][]string

func (e fakeExtractor) ExtractLinks(_, baseURL string) []string {
	return e[baseURL]
}

type metricCounts struct {
	crawled, failed, rejected, skipped int64
}

func newTestMetrics(c *metricCounts) *telemetry.AppMetrics {
	return &telemetry.AppMetrics{
		PagesCrawledCnt:      func(count int64) { c.crawled += count },
		PagesFailedCnt:       func(count int64) { c.failed += count },
		AdmissionRejectedCnt: func(count int64) { c.rejected += count },
		ArchiveFallbackCnt:   func(int64) {},
		SkippedFreshCnt:      func(count int64) { c.skipped += count },
	}
}

func newTestWorker(fetch *fakeFetcher, links fakeExtractor, counts *metricCounts,
	maxDepth int) (*CrawlWorker, *health.Monitor) {
	healthCfg := &config.HealthConfig{
		UnhealthyMemoryPct:           95,
		UnhealthyCpuPct:              95,
		UnhealthyConsecutiveFailures: 10,
		FailureRecoveryThreshold:     5,
		SampleBufferSize:             100,
		RecoveryBufferSize:           20,
	}
	monitor := health.NewMonitor(healthCfg, nil, nil, nil, &sync.WaitGroup{})

	cfg := &config.Config{
		SchedulerSettings: &config.SchedulerConfig{
			Seeds:              []string{"https://example.com/"},
			MaxDepth:           maxDepth,
			MaxQueueSize:       100,
			PauseCheckInterval: time.Millisecond,
		},
		PolitenessSettings: &config.PolitenessConfig{
			BaseDelay:          time.Millisecond,
			MinDelay:           time.Millisecond,
			MaxDelay:           2 * time.Millisecond,
			ContentTypeFactors: map[string]float64{"html": 1.0, "default": 1.0},
		},
		FetcherSettings: &config.FetcherConfig{FetchTimeout: time.Second},
	}

	var extr extractor.LinkExtractor = links
	w := &CrawlWorker{
		Frontier:   frontier.NewFrontier(cfg.SchedulerSettings.MaxQueueSize),
		Politeness: politeness.NewController(cfg.PolitenessSettings),
		Gate:       gate.NewAdmissionGate(monitor, fetch, cfg.FetcherSettings),
		Extractor:  extr,
		Health:     monitor,
		Cfg:        cfg,
		Db:         &persistence.NoopMetadataStorage{},
		Cache:      &cache.NoopCachedClient{},
		Metrics:    newTestMetrics(counts),
		Wg:         &sync.WaitGroup{},
	}
	return w, monitor
}

func TestRunCrawlsSeedAndChildren(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{}
	links := fakeExtractor{
		"https://example.com/":  {"https://example.com/a", "https://example.com/b"},
		"https://example.com/a": {"https://example.com/deep"},
	}
	counts := &metricCounts{}
	w, _ := newTestWorker(fetch, links, counts, 1)

	w.Wg.Add(1)
	w.Run(context.Background())

	for _, url := range []string{"https://example.com/", "https://example.com/a", "https://example.com/b"} {
		if fetch.calls(url) != 1 {
			t.Errorf("fetch calls for %q = %d, expected 1", url, fetch.calls(url))
		}
	}
	// Links found at max depth are not followed.
	if fetch.calls("https://example.com/deep") != 0 {
		t.Error("expected links beyond max depth to stay unfetched")
	}
	if counts.crawled != 3 {
		t.Errorf("crawled count = %d, expected 3", counts.crawled)
	}

	s := w.Snapshot()
	if s.VisitedCount != 3 {
		t.Errorf("visited count = %d, expected 3", s.VisitedCount)
	}
	if s.FrontierSize != 0 {
		t.Errorf("frontier size = %d, expected 0 after the crawl finished", s.FrontierSize)
	}
}

func TestRunFailedURLIsNotRetried(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{failing: map[string]error{
		"https://example.com/b": errors.New("connection reset"),
	}}
	links := fakeExtractor{
		"https://example.com/": {"https://example.com/a", "https://example.com/b"},
	}
	counts := &metricCounts{}
	w, _ := newTestWorker(fetch, links, counts, 1)

	w.Wg.Add(1)
	w.Run(context.Background())

	if fetch.calls("https://example.com/b") != 1 {
		t.Errorf("fetch calls for the failing url = %d, expected exactly 1",
			fetch.calls("https://example.com/b"))
	}
	if counts.failed != 1 {
		t.Errorf("failed count = %d, expected 1", counts.failed)
	}
	if counts.crawled != 2 {
		t.Errorf("crawled count = %d, expected 2", counts.crawled)
	}
	// The failure stays in the visited set.
	if got := w.Snapshot().VisitedCount; got != 3 {
		t.Errorf("visited count = %d, expected 3", got)
	}
}

func TestRunRejectsEverythingWhenUnhealthy(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{}
	counts := &metricCounts{}
	w, monitor := newTestWorker(fetch, fakeExtractor{}, counts, 1)
	for i := 0; i < 11; i++ {
		monitor.RecordFailure()
	}

	w.Wg.Add(1)
	w.Run(context.Background())

	if len(fetch.fetched) != 0 {
		t.Errorf("fetch calls = %d, expected none while unhealthy", len(fetch.fetched))
	}
	if counts.rejected != 1 {
		t.Errorf("rejected count = %d, expected 1 for the seed", counts.rejected)
	}
}

func TestRunConsumesSeedChannel(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{}
	counts := &metricCounts{}
	w, _ := newTestWorker(fetch, fakeExtractor{}, counts, 1)
	w.Cfg.SchedulerSettings.Seeds = nil

	seedChan := make(chan model.SeedTask, 2)
	seedChan <- model.SeedTask{URL: "https://one.com/", Depth: 0}
	seedChan <- model.SeedTask{URL: "https://two.com/", Depth: 0}
	close(seedChan)
	w.SeedChan = seedChan

	w.Wg.Add(1)
	w.Run(context.Background())

	if fetch.calls("https://one.com/") != 1 || fetch.calls("https://two.com/") != 1 {
		t.Errorf("fetched = %v, expected both channel seeds crawled", fetch.fetched)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetch := &fakeFetcher{}
	w, _ := newTestWorker(fetch, fakeExtractor{}, &metricCounts{}, 1)

	w.Wg.Add(1)
	w.Run(ctx)

	if len(fetch.fetched) != 0 {
		t.Errorf("fetch calls = %d, expected none after cancellation", len(fetch.fetched))
	}
}

func TestSnapshotBeforeFirstIteration(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(&fakeFetcher{}, fakeExtractor{}, &metricCounts{}, 1)
	s := w.Snapshot()
	if s == nil {
		t.Fatal("expected a non-nil snapshot before the loop starts")
	}
	if s.FrontierSize != 0 || s.VisitedCount != 0 {
		t.Errorf("snapshot = %+v, expected zero values", s)
	}
}
