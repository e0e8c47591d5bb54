package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration, loaded from a YAML file with
// HOTELINGEST_* environment overrides.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Provider      ProviderConfig      `mapstructure:"provider"`
	Collect       CollectConfig       `mapstructure:"collect"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Streams       StreamsConfig       `mapstructure:"streams"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name  string `mapstructure:"name"`
	Debug bool   `mapstructure:"debug"`
}

// ServerConfig holds the HTTP control surface settings.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ElasticsearchConfig holds search index settings.
type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	HotelIndex string   `mapstructure:"hotel_index"`
}

// CredentialConfig is one provider API credential pair.
type CredentialConfig struct {
	Key    string `mapstructure:"key"`
	Secret string `mapstructure:"secret"`
}

// ProviderConfig holds settings for the upstream provider APIs.
type ProviderConfig struct {
	PoiBaseURL   string             `mapstructure:"poi_base_url"`
	HotelBaseURL string             `mapstructure:"hotel_base_url"`
	Credentials  []CredentialConfig `mapstructure:"credentials"`
	DailyQuota   int                `mapstructure:"daily_quota"`
	// Rotation is "round_robin" or "random".
	Rotation          string        `mapstructure:"rotation"`
	BlacklistCooldown time.Duration `mapstructure:"blacklist_cooldown"`
	// QPSLimit paces page requests per credential pool.
	QPSLimit       float64       `mapstructure:"qps_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// ThrottleSleep is slept before retrying a QPS-throttled page.
	ThrottleSleep time.Duration `mapstructure:"throttle_sleep"`
}

// CollectConfig holds crawl shaping settings.
type CollectConfig struct {
	PageSize        int        `mapstructure:"page_size"`
	DetailBatchSize int        `mapstructure:"detail_batch_size"`
	CommitSize      int        `mapstructure:"commit_size"`
	ClaimLimit      int        `mapstructure:"claim_limit"`
	Regions         []Region   `mapstructure:"regions"`
	Categories      []Category `mapstructure:"categories"`
	// MaxConcurrentRuns sizes the cross-process concurrency gate.
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs"`
	// MaxPages bounds the continuous hotel crawl.
	MaxPages int `mapstructure:"max_pages"`
	// PausePollInterval is the sleep between pause checks.
	PausePollInterval time.Duration `mapstructure:"pause_poll_interval"`
	// BoundingBox optionally tightens coordinate validation.
	BoundingBox *BoundingBox `mapstructure:"bounding_box"`
}

// Region is one crawlable region.
type Region struct {
	Code string `mapstructure:"code"`
	Name string `mapstructure:"name"`
}

// Category is one crawlable POI category.
type Category struct {
	Code string `mapstructure:"code"`
	Name string `mapstructure:"name"`
}

// BoundingBox is an optional regional coordinate filter.
type BoundingBox struct {
	MinLat float64 `mapstructure:"min_lat"`
	MaxLat float64 `mapstructure:"max_lat"`
	MinLng float64 `mapstructure:"min_lng"`
	MaxLng float64 `mapstructure:"max_lng"`
}

// RetryConfig holds fetch retry shaping.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	// RateLimitBaseDelay replaces BaseDelay when the provider signaled a
	// rate limit.
	RateLimitBaseDelay time.Duration `mapstructure:"rate_limit_base_delay"`
	JitterMax          time.Duration `mapstructure:"jitter_max"`
}

// StreamsConfig holds Redis Stream settings.
type StreamsConfig struct {
	EventStream   string `mapstructure:"event_stream"`
	DLQStream     string `mapstructure:"dlq_stream"`
	DLQEmptyStream string `mapstructure:"dlq_empty_stream"`
	ConsumerGroup string `mapstructure:"consumer_group"`
	ConsumerName  string `mapstructure:"consumer_name"`
	MaxLen        int64  `mapstructure:"max_len"`
	// TrimInterval is the append count between approximate trims.
	TrimInterval int64 `mapstructure:"trim_interval"`
}

// SchedulerConfig holds cron scheduling settings.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// CacheTTL bounds staleness of job schedule lookups.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Load reads configuration from the given file (or the default search
// path when empty), applies defaults and environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("HOTELINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus env cover it.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "hotel-ingest")
	v.SetDefault("app.debug", false)

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.host", "127.0.0.1")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "hotel_ingest")
	v.SetDefault("postgres.dbname", "hotel_ingest")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("elasticsearch.addresses", []string{"http://127.0.0.1:9200"})
	v.SetDefault("elasticsearch.hotel_index", "hotels")

	v.SetDefault("provider.daily_quota", 30000)
	v.SetDefault("provider.rotation", "round_robin")
	v.SetDefault("provider.blacklist_cooldown", "1h")
	v.SetDefault("provider.qps_limit", 3.0)
	v.SetDefault("provider.request_timeout", "30s")
	v.SetDefault("provider.throttle_sleep", "3s")

	v.SetDefault("collect.page_size", 25)
	v.SetDefault("collect.detail_batch_size", 20)
	v.SetDefault("collect.commit_size", 200)
	v.SetDefault("collect.claim_limit", 10)
	v.SetDefault("collect.max_concurrent_runs", 1)
	v.SetDefault("collect.max_pages", 100)
	v.SetDefault("collect.pause_poll_interval", "5s")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.rate_limit_base_delay", "5s")
	v.SetDefault("retry.jitter_max", "500ms")

	v.SetDefault("streams.event_stream", "hotel:events")
	v.SetDefault("streams.dlq_stream", "hotel:events:dlq")
	v.SetDefault("streams.dlq_empty_stream", "hotel:events:dlq:empty")
	v.SetDefault("streams.consumer_group", "hotel-ingest")
	v.SetDefault("streams.consumer_name", "backfill-1")
	v.SetDefault("streams.max_len", 100000)
	v.SetDefault("streams.trim_interval", 100)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cache_ttl", "30s")
}

// Validate checks the loaded configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Provider.Rotation != "round_robin" && c.Provider.Rotation != "random" {
		return fmt.Errorf("provider.rotation must be round_robin or random, got %q", c.Provider.Rotation)
	}
	if c.Collect.PageSize <= 0 {
		return fmt.Errorf("collect.page_size must be positive, got %d", c.Collect.PageSize)
	}
	if c.Collect.DetailBatchSize <= 0 {
		return fmt.Errorf("collect.detail_batch_size must be positive, got %d", c.Collect.DetailBatchSize)
	}
	if c.Collect.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("collect.max_concurrent_runs must be positive, got %d", c.Collect.MaxConcurrentRuns)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Streams.TrimInterval <= 0 {
		return fmt.Errorf("streams.trim_interval must be positive, got %d", c.Streams.TrimInterval)
	}
	if bb := c.Collect.BoundingBox; bb != nil {
		if bb.MinLat >= bb.MaxLat || bb.MinLng >= bb.MaxLng {
			return fmt.Errorf("collect.bounding_box is degenerate")
		}
	}
	return nil
}
