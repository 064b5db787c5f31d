package config

import (
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                string             `mapstructure:"env"`
	LogLevel           string             `mapstructure:"log_level"`
	LogType            string             `mapstructure:"log_type"`
	ServiceName        string             `mapstructure:"service_name"`
	Version            string             `mapstructure:"version"`
	SchedulerSettings  *SchedulerConfig   `mapstructure:"scheduler"`
	PolitenessSettings *PolitenessConfig  `mapstructure:"politeness"`
	HealthSettings     *HealthConfig      `mapstructure:"health"`
	FetcherSettings    *FetcherConfig     `mapstructure:"fetcher"`
	ArchiveSettings    *ArchiveConfig     `mapstructure:"archive"`
	CacheSettings      *CacheConfig       `mapstructure:"cache"`
	DbSettings         *DatabaseConfig    `mapstructure:"database"`
	KafkaSettings      *KafkaConfig       `mapstructure:"kafka"`
	S3Settings         *S3Config          `mapstructure:"s3"`
	TelemetrySettings  *TelemetryConfig   `mapstructure:"telemetry"`
	HttpClientSettings *HttpClientConfig  `mapstructure:"http_client"`
}

type SchedulerConfig struct {
	Seeds              []string      `mapstructure:"seeds"`
	MaxDepth           int           `mapstructure:"max_depth"`
	MaxQueueSize       int           `mapstructure:"max_queue_size"`
	PauseCheckInterval time.Duration `mapstructure:"pause_check_interval"`
	ProgressInterval   time.Duration `mapstructure:"progress_interval"`
}

type PolitenessConfig struct {
	BaseDelay          time.Duration      `mapstructure:"base_delay"`
	MinDelay           time.Duration      `mapstructure:"min_delay"`
	MaxDelay           time.Duration      `mapstructure:"max_delay"`
	ContentTypeFactors map[string]float64 `mapstructure:"content_type_factors"`
}

type HealthConfig struct {
	SampleInterval               time.Duration `mapstructure:"sample_interval"`
	MemoryThresholdPct           float64       `mapstructure:"memory_threshold_pct"`
	CpuThresholdPct              float64       `mapstructure:"cpu_threshold_pct"`
	DiskThresholdPct             float64       `mapstructure:"disk_threshold_pct"`
	UnhealthyMemoryPct           float64       `mapstructure:"unhealthy_memory_pct"`
	UnhealthyCpuPct              float64       `mapstructure:"unhealthy_cpu_pct"`
	UnhealthyConsecutiveFailures int           `mapstructure:"unhealthy_consecutive_failures"`
	FailureRecoveryThreshold     int           `mapstructure:"failure_recovery_threshold"`
	SampleBufferSize             int           `mapstructure:"sample_buffer_size"`
	RecoveryBufferSize           int           `mapstructure:"recovery_buffer_size"`
	DiskPath                     string        `mapstructure:"disk_path"`
	TempFilePrefix               string        `mapstructure:"temp_file_prefix"`
	CpuRecoverySleep             time.Duration `mapstructure:"cpu_recovery_sleep"`
	FailureRecoverySleep         time.Duration `mapstructure:"failure_recovery_sleep"`
}

type FetcherConfig struct {
	FetchMechanism int           `mapstructure:"fetch_mechanism"`
	UserAgent      string        `mapstructure:"user_agent"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	RobotsCacheTtl time.Duration `mapstructure:"robots_cache_ttl"`
}

type ArchiveConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	RequestTimeout   int  `mapstructure:"request_timeout"`
	Retries          int  `mapstructure:"retries"`
	LastCrawlIndexes int  `mapstructure:"last_crawl_indexes"`
}

type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Servers    []string      `mapstructure:"servers"`
	TtlForPage time.Duration `mapstructure:"ttl_for_page"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type KafkaConfig struct {
	Producer *ProducerConfig `mapstructure:"producer"`
	Consumer *ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Addr                []string      `mapstructure:"addr"`
	WriteTopicName      string        `mapstructure:"write_topic_name"`
	DeadLetterTopicName string        `mapstructure:"dlq_topic_name"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchTimeout        time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	RequiredAsks        int           `mapstructure:"required_acks"`
	Async               bool          `mapstructure:"async"`
}

type ConsumerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	ReadTopicName    string        `mapstructure:"read_topic_name"`
	Brokers          []string      `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	ReadBatchTimeout time.Duration `mapstructure:"read_batch_timeout"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	MaxBytes         int           `mapstructure:"max_bytes"`
	CommitInterval   time.Duration `mapstructure:"commit_interval"`
}

type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CollectorUrl string `mapstructure:"collector_url"`
}

type HttpClientConfig struct {
	MaxIdleConnections        int           `mapstructure:"max_idle_connections"`
	MaxIdleConnectionsPerHost int           `mapstructure:"max_idle_connections_per_host"`
	MaxConnectionsPerHost     int           `mapstructure:"max_connections_per_host"`
	IdleConnectionTimeout     time.Duration `mapstructure:"idle_connection_timeout"`
	TlsHandshakeTimeout       time.Duration `mapstructure:"tls_handshake_timeout"`
	DialTimeout               time.Duration `mapstructure:"dial_timeout"`
	DialKeepAlive             time.Duration `mapstructure:"dial_keep_alive"`
	TlsInsecureSkipVerify     bool          `mapstructure:"tls_insecure_skip_verify"`
}

func MustLoad() *Config {
	viper.AddConfigPath(path.Join("."))
	viper.SetConfigName("config")
	viper.AutomaticEnv()
	setDefaults()

	err := viper.ReadInConfig()
	if err != nil {
		slog.Error("can't initialize config file.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("error unmarshalling viper config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &cfg
}

func setDefaults() {
	viper.SetDefault("scheduler.max_depth", 3)
	viper.SetDefault("scheduler.max_queue_size", 100000)
	viper.SetDefault("scheduler.pause_check_interval", "500ms")
	viper.SetDefault("scheduler.progress_interval", "10s")

	viper.SetDefault("politeness.base_delay", "1s")
	viper.SetDefault("politeness.min_delay", "100ms")
	viper.SetDefault("politeness.max_delay", "10s")
	viper.SetDefault("politeness.content_type_factors",
		map[string]float64{"html": 1.0, "image": 0.5, "pdf": 2.0, "default": 1.0})

	viper.SetDefault("health.sample_interval", "2s")
	viper.SetDefault("health.memory_threshold_pct", 85)
	viper.SetDefault("health.cpu_threshold_pct", 90)
	viper.SetDefault("health.disk_threshold_pct", 95)
	viper.SetDefault("health.unhealthy_memory_pct", 95)
	viper.SetDefault("health.unhealthy_cpu_pct", 95)
	viper.SetDefault("health.unhealthy_consecutive_failures", 10)
	viper.SetDefault("health.failure_recovery_threshold", 5)
	viper.SetDefault("health.sample_buffer_size", 100)
	viper.SetDefault("health.recovery_buffer_size", 20)
	viper.SetDefault("health.disk_path", "/")
	viper.SetDefault("health.temp_file_prefix", "crawl-scheduler-")
	viper.SetDefault("health.cpu_recovery_sleep", "2s")
	viper.SetDefault("health.failure_recovery_sleep", "5s")

	viper.SetDefault("fetcher.fetch_timeout", "30s")
	viper.SetDefault("fetcher.respect_robots", true)
	viper.SetDefault("fetcher.robots_cache_ttl", "1h")

	// Optional collaborators are off unless the config turns them on.
	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("kafka.consumer.enabled", false)
	viper.SetDefault("kafka.producer.enabled", false)
	viper.SetDefault("s3.enabled", false)
	viper.SetDefault("telemetry.enabled", false)

	viper.SetDefault("http_client.max_idle_connections", 100)
	viper.SetDefault("http_client.max_idle_connections_per_host", 10)
	viper.SetDefault("http_client.max_connections_per_host", 10)
	viper.SetDefault("http_client.idle_connection_timeout", "90s")
	viper.SetDefault("http_client.tls_handshake_timeout", "10s")
	viper.SetDefault("http_client.dial_timeout", "10s")
	viper.SetDefault("http_client.dial_keep_alive", "30s")
}
