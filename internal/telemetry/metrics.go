package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"

	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/google/uuid"
)

var meter metric.Meter

type MetricsProvider struct {
	KafkaConsumerMetrics *KafkaConsumerMetrics
	KafkaProducerMetrics *KafkaProducerMetrics
	AppMetrics           *AppMetrics
	HealthMetrics        *HealthMetrics
	Close                func()
}

type KafkaConsumerMetrics struct {
	SuccessfullyReadMsgCnt func(count int64)
	FailedReadMsgCnt       func(count int64)
}

type KafkaProducerMetrics struct {
	SuccessfullySendMsgCnt func(count int64)
	FailedSendMsgCnt       func(count int64)
}

type AppMetrics struct {
	PagesCrawledCnt      func(count int64)
	PagesFailedCnt       func(count int64)
	AdmissionRejectedCnt func(count int64)
	ArchiveFallbackCnt   func(count int64)
	SkippedFreshCnt      func(count int64)
}

type HealthMetrics struct {
	RecoveryActionCnt func(count int64)
}

func SetupMetrics(ctx context.Context, cfg *config.Config) *MetricsProvider {
	metricsProvider := new(MetricsProvider)
	var meterProvider *sdkmetric.MeterProvider

	if cfg.TelemetrySettings.Enabled {
		r, err := newResource(cfg)
		if err != nil {
			slog.Error("failed to get resource.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		exporter, err := newMetricExporter(ctx, cfg.TelemetrySettings)
		if err != nil {
			slog.Error("failed to get metric exporter.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		meterProvider = newMeterProvider(exporter, *r)
		otel.SetMeterProvider(meterProvider)
	}

	meter = otel.Meter(cfg.ServiceName)
	metricsProvider.Close = func() {
		if meterProvider != nil {
			err := meterProvider.Shutdown(ctx)
			if err != nil {
				slog.Error("failed to shutdown metrics provider.", slog.String("err", err.Error()))
			}
		}
	}

	// Set up kafka consumer metrics
	kafkaConsumerSuccessCounter, err := meter.Int64Counter("crawl-scheduler.kafka.read.success",
		metric.WithDescription("The number of seed messages the kafka consumer successfully processed"),
		metric.WithUnit("{messages}"))
	kafkaConsumerFailCounter, err := meter.Int64Counter("crawl-scheduler.kafka.read.fail",
		metric.WithDescription("The number of seed messages the kafka consumer could not process"),
		metric.WithUnit("{messages}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for kafka consumer.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.KafkaConsumerMetrics = &KafkaConsumerMetrics{
		SuccessfullyReadMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaConsumerSuccessCounter.Add(ctx, count)
			}
		},
		FailedReadMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaConsumerFailCounter.Add(ctx, count)
			}
		},
	}

	// Set up kafka producer metrics
	kafkaProducerSuccessCounter, err := meter.Int64Counter("crawl-scheduler.kafka.send.success",
		metric.WithDescription("The number of result messages the kafka producer successfully processed"),
		metric.WithUnit("{messages}"))
	kafkaProducerFailCounter, err := meter.Int64Counter("crawl-scheduler.kafka.send.fail",
		metric.WithDescription("The number of result messages the kafka producer could not process"),
		metric.WithUnit("{messages}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for kafka producer.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.KafkaProducerMetrics = &KafkaProducerMetrics{
		SuccessfullySendMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaProducerSuccessCounter.Add(ctx, count)
			}
		},
		FailedSendMsgCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				kafkaProducerFailCounter.Add(ctx, count)
			}
		},
	}

	// Set up crawl loop metrics
	crawledCounter, err := meter.Int64Counter("crawl-scheduler.pages.crawled",
		metric.WithDescription("The number of pages fetched successfully"),
		metric.WithUnit("{pages}"))
	failedCounter, err := meter.Int64Counter("crawl-scheduler.pages.failed",
		metric.WithDescription("The number of pages that failed to fetch"),
		metric.WithUnit("{pages}"))
	rejectedCounter, err := meter.Int64Counter("crawl-scheduler.pages.rejected",
		metric.WithDescription("The number of fetches rejected by the admission gate"),
		metric.WithUnit("{pages}"))
	archiveCounter, err := meter.Int64Counter("crawl-scheduler.pages.archive",
		metric.WithDescription("The number of pages served from the web archive fallback"),
		metric.WithUnit("{pages}"))
	skippedCounter, err := meter.Int64Counter("crawl-scheduler.pages.skipped-fresh",
		metric.WithDescription("The number of pages skipped because a recent crawl is still cached"),
		metric.WithUnit("{pages}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for the crawl loop.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.AppMetrics = &AppMetrics{
		PagesCrawledCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				crawledCounter.Add(ctx, count)
			}
		},
		PagesFailedCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				failedCounter.Add(ctx, count)
			}
		},
		AdmissionRejectedCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				rejectedCounter.Add(ctx, count)
			}
		},
		ArchiveFallbackCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				archiveCounter.Add(ctx, count)
			}
		},
		SkippedFreshCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				skippedCounter.Add(ctx, count)
			}
		},
	}

	// Set up health monitor metrics
	recoveryCounter, err := meter.Int64Counter("crawl-scheduler.health.recovery-actions",
		metric.WithDescription("The number of recovery actions triggered by the health monitor"),
		metric.WithUnit("{actions}"))
	if err != nil {
		slog.Error("failed to create telemetry counter for the health monitor.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.HealthMetrics = &HealthMetrics{
		RecoveryActionCnt: func(count int64) {
			if cfg.TelemetrySettings.Enabled {
				recoveryCounter.Add(ctx, count)
			}
		},
	}

	// initialize metrics in DataDog for setup UI
	if cfg.TelemetrySettings.Enabled {
		metricsProvider.KafkaProducerMetrics.SuccessfullySendMsgCnt(1)
		metricsProvider.KafkaProducerMetrics.FailedSendMsgCnt(1)
		metricsProvider.KafkaConsumerMetrics.SuccessfullyReadMsgCnt(1)
		metricsProvider.KafkaConsumerMetrics.FailedReadMsgCnt(1)
		metricsProvider.AppMetrics.PagesCrawledCnt(1)
		metricsProvider.AppMetrics.PagesFailedCnt(1)
		metricsProvider.AppMetrics.AdmissionRejectedCnt(1)
		metricsProvider.AppMetrics.ArchiveFallbackCnt(1)
		metricsProvider.AppMetrics.SkippedFreshCnt(1)
		metricsProvider.HealthMetrics.RecoveryActionCnt(1)
	}

	return metricsProvider
}

func newResource(cfg *config.Config) (*resource.Resource, error) {
	ecsResourceDetector := ecs.NewResourceDetector()
	ecsResource, err := ecsResourceDetector.Detect(context.Background())
	if err != nil {
		slog.Error("ecs detection failed", slog.String("err", err.Error()))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Error("failed to merge resources", slog.String("err", err.Error()))
	}
	keyValue, found := ecsResource.Set().Value("container.id")
	var serviceId string
	if found {
		serviceId = keyValue.AsString()
	} else {
		serviceId = uuid.New().String()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(serviceId),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorUrl),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(meterExporter sdkmetric.Exporter, resource resource.Resource) *sdkmetric.MeterProvider {
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(meterExporter)),
		sdkmetric.WithResource(&resource),
	)
	return meterProvider
}
