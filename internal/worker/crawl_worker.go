package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/flutter-gis/crawl-scheduler/internal/aws_s3"
	"github.com/flutter-gis/crawl-scheduler/internal/broker"
	"github.com/flutter-gis/crawl-scheduler/internal/cache"
	"github.com/flutter-gis/crawl-scheduler/internal/crawler"
	"github.com/flutter-gis/crawl-scheduler/internal/extractor"
	"github.com/flutter-gis/crawl-scheduler/internal/fetcher"
	"github.com/flutter-gis/crawl-scheduler/internal/frontier"
	"github.com/flutter-gis/crawl-scheduler/internal/gate"
	"github.com/flutter-gis/crawl-scheduler/internal/health"
	"github.com/flutter-gis/crawl-scheduler/internal/model"
	"github.com/flutter-gis/crawl-scheduler/internal/persistence"
	"github.com/flutter-gis/crawl-scheduler/internal/politeness"
	"github.com/flutter-gis/crawl-scheduler/internal/telemetry"
)

// CrawlWorker is the single crawl-loop goroutine. It owns the frontier and
// the politeness stats; no other goroutine touches them. Health state is
// read through the gate and the monitor's locked accessors.
type CrawlWorker struct {
	Frontier   *frontier.Frontier
	Politeness *politeness.Controller
	Gate       *gate.AdmissionGate
	Extractor  extractor.LinkExtractor
	Archive    *crawler.ArchiveService
	Health     *health.Monitor
	Cfg        *config.Config
	Db         persistence.MetadataStorage
	S3         aws_s3.BucketClient
	Cache      cache.CachedClient
	KafkaDLQ   *broker.KafkaDLQClient
	ResultChan chan<- *model.ResultTask
	SeedChan   <-chan model.SeedTask
	Metrics    *telemetry.AppMetrics
	Wg         *sync.WaitGroup

	paused   atomic.Bool
	snapshot atomic.Pointer[model.Snapshot]
}

func (w *CrawlWorker) Run(ctx context.Context) {
	defer w.Wg.Done()
	slog.Debug("starting crawl worker.")

	for _, seed := range w.Cfg.SchedulerSettings.Seeds {
		if err := w.Frontier.Enqueue(seed, 0); err != nil {
			slog.Error("failed to enqueue seed url.", slog.String("url", seed),
				slog.String("err", err.Error()))
		}
	}

	for {
		// The stop flag is polled once per iteration; an in-flight fetch
		// is never cancelled forcibly, it completes or times out.
		if ctx.Err() != nil {
			slog.Info("stop requested.")
			return
		}
		if w.paused.Load() {
			w.sleep(ctx, w.Cfg.SchedulerSettings.PauseCheckInterval)
			continue
		}
		w.drainSeeds()

		entry, ok := w.Frontier.Dequeue()
		if !ok {
			if w.SeedChan == nil {
				slog.Info("frontier exhausted. crawl complete.")
				return
			}
			if !w.awaitSeed(ctx) {
				return
			}
			continue
		}

		// Visited before the fetch, not after success: the url is never
		// processed twice even if this fetch fails.
		w.Frontier.MarkVisited(entry.URL)

		if w.Cache.IsFreshlyCrawled(entry.URL) {
			slog.Debug("skipping freshly crawled url.", slog.String("url", entry.URL))
			w.Metrics.SkippedFreshCnt(1)
			continue
		}

		w.process(ctx, entry)
		w.publishSnapshot()
	}
}

func (w *CrawlWorker) Pause() {
	w.paused.Store(true)
	slog.Info("crawl worker paused.")
}

func (w *CrawlWorker) Resume() {
	w.paused.Store(false)
	slog.Info("crawl worker resumed.")
}

// Snapshot returns the read-only progress view published after each
// iteration. Safe to call from any goroutine.
func (w *CrawlWorker) Snapshot() *model.Snapshot {
	if s := w.snapshot.Load(); s != nil {
		return s
	}
	return &model.Snapshot{}
}

func (w *CrawlWorker) process(ctx context.Context, entry model.FrontierEntry) {
	domain := politeness.Domain(entry.URL)

	result := w.Gate.SafeRequest(ctx, entry.URL)
	switch result.Status {
	case model.FetchRejected:
		// The url stays visited and is not retried this session.
		slog.Warn("fetch rejected by the admission gate.", slog.String("url", entry.URL))
		w.Metrics.AdmissionRejectedCnt(1)
	case model.FetchFailed:
		err := result.Err
		if errors.Is(err, fetcher.ErrRobotsDisallowed) && w.Archive != nil {
			w.Metrics.ArchiveFallbackCnt(1)
			page, archiveErr := w.Archive.GetPage(entry.URL)
			if archiveErr == nil {
				w.handleSuccess(ctx, entry, domain, page, false)
				return
			}
			slog.Error("archive fallback failed.", slog.String("err", archiveErr.Error()))
			err = archiveErr
		}
		w.Politeness.UpdateStats(domain, 0, false)
		slog.Error("crawling failed.", slog.String("url", entry.URL), slog.String("err", err.Error()))
		if w.KafkaDLQ != nil {
			w.KafkaDLQ.SendUrlToDLQ(entry.URL, err)
		}
		w.Metrics.PagesFailedCnt(1)
	case model.FetchOk:
		w.handleSuccess(ctx, entry, domain, result.Page, true)
	}
}

func (w *CrawlWorker) handleSuccess(ctx context.Context, entry model.FrontierEntry, domain string,
	page *model.Page, live bool) {
	w.Politeness.UpdateStats(domain, page.ResponseTime, true)

	if entry.Depth < w.Cfg.SchedulerSettings.MaxDepth {
		for _, link := range w.Extractor.ExtractLinks(page.Body, entry.URL) {
			if err := w.Frontier.Enqueue(link, entry.Depth+1); err != nil {
				slog.Debug("discarding invalid link.", slog.String("url", link))
			}
		}
	}
	w.savePage(entry, page)
	w.Metrics.PagesCrawledCnt(1)

	if live {
		// Politeness is enforced between requests: the delay runs before
		// the next iteration's fetch, not within this one.
		w.sleep(ctx, w.Politeness.Delay(entry.URL, page.ContentType, page.ResponseTime))
	}
}

func (w *CrawlWorker) savePage(entry model.FrontierEntry, page *model.Page) {
	slog.Debug("saving page.", slog.String("FullURL", page.FullURL),
		slog.String("Title", page.Title),
		slog.Int("StatusCode", page.StatusCode),
		slog.Duration("ResponseTime", page.ResponseTime),
		slog.String("FetchMechanism", page.FetchMechanism),
		slog.String("ETag", page.ETag),
	)

	w.Cache.MarkCrawled(page.FullURL)

	result := &model.ResultTask{
		URL:        page.FullURL,
		Depth:      entry.Depth,
		StatusCode: page.StatusCode,
	}
	if w.S3 != nil {
		s3Key, err := w.S3.WritePage(page)
		if err != nil {
			slog.Error("failed to save page to S3.", slog.String("url", page.FullURL))
			if w.KafkaDLQ != nil {
				w.KafkaDLQ.SendUrlToDLQ(page.FullURL, err)
			}
			return
		}
		result.S3Bucket = w.Cfg.S3Settings.BucketName
		result.S3Key = s3Key
	}

	w.Db.Save(page)
	if w.ResultChan != nil {
		w.ResultChan <- result
	}
}

// drainSeeds moves any pending seeds into the frontier without blocking.
func (w *CrawlWorker) drainSeeds() {
	for w.SeedChan != nil {
		select {
		case seed, ok := <-w.SeedChan:
			if !ok {
				w.SeedChan = nil
				return
			}
			w.enqueueSeed(seed)
		default:
			return
		}
	}
}

// awaitSeed blocks until a new seed arrives, the seed source closes, or the
// context is cancelled. Returns false when the loop should exit.
func (w *CrawlWorker) awaitSeed(ctx context.Context) bool {
	slog.Debug("frontier is empty. waiting for seeds.")
	select {
	case <-ctx.Done():
		return false
	case seed, ok := <-w.SeedChan:
		if !ok {
			w.SeedChan = nil
			return false
		}
		w.enqueueSeed(seed)
		return true
	}
}

func (w *CrawlWorker) enqueueSeed(seed model.SeedTask) {
	if err := w.Frontier.Enqueue(seed.URL, seed.Depth); err != nil {
		slog.Error("failed to enqueue seed url.", slog.String("url", seed.URL),
			slog.String("err", err.Error()))
	}
}

func (w *CrawlWorker) publishSnapshot() {
	w.snapshot.Store(&model.Snapshot{
		FrontierSize:          w.Frontier.Size(),
		VisitedCount:          w.Frontier.VisitedCount(),
		PerDomainStats:        w.Politeness.StatsSnapshot(),
		LastHealthSample:      w.Health.LastSample(),
		RecentRecoveryActions: w.Health.RecentRecoveries(),
	})
}

func (w *CrawlWorker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
