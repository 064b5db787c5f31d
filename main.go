package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/flutter-gis/crawl-scheduler/internal/aws_s3"
	"github.com/flutter-gis/crawl-scheduler/internal/broker"
	cacheClient "github.com/flutter-gis/crawl-scheduler/internal/cache"
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
	"github.com/flutter-gis/crawl-scheduler/internal/worker"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
)

var (
	cfg *config.Config
	db  *sql.DB
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	setupLogger()
	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()

	metadataRepo := persistence.MetadataStorage(&persistence.NoopMetadataStorage{})
	if cfg.DbSettings.Enabled {
		db = setupDatabase()
		defer closeDatabase()
		metadataRepo = persistence.NewMetadataRepository(db)
	}
	pageCache := cacheClient.CachedClient(&cacheClient.NoopCachedClient{})
	if cfg.CacheSettings.Enabled {
		pageCache = cacheClient.NewMemcachedClient(cfg.CacheSettings)
		defer pageCache.Close()
	}
	var s3 aws_s3.BucketClient
	if cfg.S3Settings.Enabled {
		s3 = aws_s3.NewS3BucketClient(cfg)
	}

	httpTransport := getHttpTransport()
	robots := fetcher.NewRobotsChecker(cfg.FetcherSettings, httpTransport)
	fetch := buildFetcher(httpTransport, robots)
	fetchMechanism := model.FetchMechanism(cfg.FetcherSettings.FetchMechanism)
	slog.Info("starting crawl scheduler.", slog.String("env", cfg.Env),
		slog.String("fetch mechanism", fetchMechanism.String()))

	monitorWg := &sync.WaitGroup{}
	sampler := health.NewGopsutilSampler(cfg.HealthSettings.DiskPath)
	healthMonitor := health.NewMonitor(cfg.HealthSettings, sampler, fetch, robots, monitorWg)
	healthMonitor.SetRecoveryCounter(metrics.HealthMetrics.RecoveryActionCnt)
	monitorWg.Add(1)
	go healthMonitor.Run(ctx)

	var archive *crawler.ArchiveService
	if cfg.ArchiveSettings.Enabled {
		archive = crawler.NewArchiveService(cfg.ArchiveSettings)
	}

	kafkaWg := &sync.WaitGroup{}
	var seedChan chan model.SeedTask
	if cfg.KafkaSettings.Consumer.Enabled {
		seedChan = make(chan model.SeedTask, cfg.KafkaSettings.Consumer.QueueCapacity)
		kafkaConsumer := broker.NewKafkaSeedConsumer(seedChan, metrics.KafkaConsumerMetrics,
			cfg.KafkaSettings.Consumer, kafkaWg)
		kafkaWg.Add(1)
		go kafkaConsumer.Run(ctx)
	}
	var resultChan chan *model.ResultTask
	var kafkaDLQ *broker.KafkaDLQClient
	if cfg.KafkaSettings.Producer.Enabled {
		resultChan = make(chan *model.ResultTask, cfg.KafkaSettings.Producer.BatchSize*2)
		kafkaProducer := broker.NewKafkaResultProducer(resultChan, metrics.KafkaProducerMetrics,
			cfg.KafkaSettings.Producer, kafkaWg)
		kafkaWg.Add(1)
		go kafkaProducer.Run()
		kafkaDLQ = broker.NewKafkaDLQ(cfg.ServiceName, cfg.KafkaSettings.Producer)
		defer kafkaDLQ.Close()
	}

	workerWg := &sync.WaitGroup{}
	crawlWorker := &worker.CrawlWorker{
		Frontier:   frontier.NewFrontier(cfg.SchedulerSettings.MaxQueueSize),
		Politeness: politeness.NewController(cfg.PolitenessSettings),
		Gate:       gate.NewAdmissionGate(healthMonitor, fetch, cfg.FetcherSettings),
		Extractor:  extractor.NewHtmlLinkExtractor(),
		Archive:    archive,
		Health:     healthMonitor,
		Cfg:        cfg,
		Db:         metadataRepo,
		S3:         s3,
		Cache:      pageCache,
		KafkaDLQ:   kafkaDLQ,
		ResultChan: resultChan,
		SeedChan:   seedChan,
		Metrics:    metrics.AppMetrics,
		Wg:         workerWg,
	}
	workerWg.Add(1)
	go crawlWorker.Run(ctx)

	go progressLogger(ctx, crawlWorker)

	// Graceful shutdown.
	// 1. The crawl loop exits on SIGINT/SIGTERM or when the frontier is exhausted
	// 2. Cancel the context so the health monitor and the kafka consumer stop
	// 3. Close resultChan and wait till the producer flushes its batch
	// 4. Close database and memcached connections
	workerWg.Wait()
	stop()
	slog.Info("stopping scheduler...")
	if resultChan != nil {
		close(resultChan)
		slog.Info("close resultChan.")
	}
	kafkaWg.Wait()
	monitorWg.Wait()
	slog.Info("scheduler stopped.")
}

func setupLogger() *slog.Logger {
	envLogLevel := strings.ToLower(cfg.LogLevel)
	var slogLevel slog.Level
	err := slogLevel.UnmarshalText([]byte(envLogLevel))
	if err != nil {
		log.Printf("encountenred log level: '%s'. The package does not support custom log levels", envLogLevel)
		slogLevel = slog.LevelDebug
	}
	log.Printf("slog level overwritten to '%v'", slogLevel)
	slog.SetLogLoggerLevel(slogLevel)

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs,
			NoColor: func() bool {
				if cfg.Env == "local" {
					return false
				}
				return true
			}()}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupDatabase() *sql.DB {
	slog.Info("connecting to the database...")
	connStr := fmt.Sprintf("user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cfg.DbSettings.User,
		cfg.DbSettings.Password,
		cfg.DbSettings.Host,
		cfg.DbSettings.Port,
		cfg.DbSettings.Name,
	)
	database, err := sql.Open("postgres", connStr)
	if err != nil {
		slog.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		slog.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			slog.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				slog.Error("failed to establish database connection.")
				os.Exit(1)
			}
			slog.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	slog.Info("connected to the database!")

	return database
}

func closeDatabase() {
	slog.Info("closing database connection.")
	err := db.Close()
	if err != nil {
		slog.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}

func buildFetcher(httpTransport *http.Transport, robots *fetcher.RobotsChecker) fetcher.Fetcher {
	switch model.FetchMechanism(cfg.FetcherSettings.FetchMechanism) {
	case model.Curl:
		return fetcher.NewCurlFetcher(cfg.FetcherSettings, httpTransport, robots, cfg.Version)
	case model.HeadlessBrowser:
		return fetcher.NewBrowserFetcher(cfg.FetcherSettings, robots, cfg.Version)
	default:
		slog.Error("unsupported fetch mechanism.",
			slog.Int("fetch_mechanism", cfg.FetcherSettings.FetchMechanism))
		os.Exit(1)
		return nil
	}
}

func progressLogger(ctx context.Context, crawlWorker *worker.CrawlWorker) {
	ticker := time.NewTicker(cfg.SchedulerSettings.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := crawlWorker.Snapshot()
			attrs := []any{
				slog.Int("frontier_size", s.FrontierSize),
				slog.Int("visited_count", s.VisitedCount),
				slog.Int("domains", len(s.PerDomainStats)),
				slog.Int("recent_recoveries", len(s.RecentRecoveryActions)),
			}
			if s.LastHealthSample != nil {
				attrs = append(attrs,
					slog.Float64("memory_pct", s.LastHealthSample.MemoryPct),
					slog.Float64("cpu_pct", s.LastHealthSample.CpuPct))
			}
			slog.Info("crawl progress.", attrs...)
		}
	}
}

func getHttpTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        cfg.HttpClientSettings.MaxIdleConnections,
		MaxIdleConnsPerHost: cfg.HttpClientSettings.MaxIdleConnectionsPerHost,
		MaxConnsPerHost:     cfg.HttpClientSettings.MaxConnectionsPerHost,
		IdleConnTimeout:     cfg.HttpClientSettings.IdleConnectionTimeout,
		TLSHandshakeTimeout: cfg.HttpClientSettings.TlsHandshakeTimeout,
		DialContext: (&net.Dialer{
			Timeout:   cfg.HttpClientSettings.DialTimeout,
			KeepAlive: cfg.HttpClientSettings.DialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.HttpClientSettings.TlsInsecureSkipVerify,
		},
	}
}
