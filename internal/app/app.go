// Package app wires configuration, clients and pipeline components into
// a runnable service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/hotel-ingest/internal/backfill"
	"github.com/jonesrussell/hotel-ingest/internal/config"
	"github.com/jonesrussell/hotel-ingest/internal/database"
	"github.com/jonesrussell/hotel-ingest/internal/dlq"
	"github.com/jonesrussell/hotel-ingest/internal/fetch"
	"github.com/jonesrussell/hotel-ingest/internal/gate"
	"github.com/jonesrussell/hotel-ingest/internal/index"
	"github.com/jonesrussell/hotel-ingest/internal/keypool"
	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/metrics"
	"github.com/jonesrussell/hotel-ingest/internal/models"
	"github.com/jonesrussell/hotel-ingest/internal/orchestrator"
	"github.com/jonesrussell/hotel-ingest/internal/parser"
	"github.com/jonesrussell/hotel-ingest/internal/schedule"
	"github.com/jonesrussell/hotel-ingest/internal/sink"
	"github.com/jonesrussell/hotel-ingest/internal/streams"
	"github.com/jonesrussell/hotel-ingest/internal/taskstate"
	"github.com/jonesrussell/hotel-ingest/internal/validator"
	"github.com/jonesrussell/hotel-ingest/internal/workunits"
)

const redisConnectTimeout = 2 * time.Second

// App holds every wired component of the service.
type App struct {
	Cfg *config.Config
	Log logger.Logger

	Redis *redis.Client
	DB    *sqlx.DB
	Repo  *database.Repository
	ES    *elasticsearch.Client

	Pool    *keypool.KeyPool
	Gate    *gate.ConcurrencyGate
	State   *taskstate.Store
	Units   *workunits.Store
	Metrics *metrics.Metrics
	Cache   *schedule.Cache

	Streams     *streams.Client
	Publisher   *streams.Publisher
	DeadLetters *streams.DeadLetterPublisher

	PoiRunner   *orchestrator.PoiRunner
	HotelRunner *orchestrator.HotelSyncRunner
}

// New builds the full component graph from configuration.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.NewLogger(cfg.App.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	db, err := database.NewPostgresConnection(cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to Postgres: %w", err)
	}
	repo := database.NewRepository(db)

	esClient, err := index.NewClient(cfg.Elasticsearch)
	if err != nil {
		return nil, fmt.Errorf("connect to Elasticsearch: %w", err)
	}

	credentials := make([]models.Credential, 0, len(cfg.Provider.Credentials))
	for _, c := range cfg.Provider.Credentials {
		credentials = append(credentials, models.Credential{Key: c.Key, Secret: c.Secret})
	}
	pool, err := keypool.New(keypool.Config{
		Credentials:       credentials,
		DailyQuota:        cfg.Provider.DailyQuota,
		Strategy:          keypool.Strategy(cfg.Provider.Rotation),
		BlacklistCooldown: cfg.Provider.BlacklistCooldown,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create credential pool: %w", err)
	}

	g, err := gate.New(redisClient, gate.Config{Limit: cfg.Collect.MaxConcurrentRuns})
	if err != nil {
		return nil, fmt.Errorf("create concurrency gate: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	streamsClient := streams.NewClientFromRedis(redisClient)
	publisher := streams.NewPublisher(streamsClient, streams.PublisherConfig{
		Stream:       cfg.Streams.EventStream,
		MaxLen:       cfg.Streams.MaxLen,
		TrimInterval: cfg.Streams.TrimInterval,
	}, log)
	deadLetters := streams.NewDeadLetterPublisher(streamsClient,
		cfg.Streams.DLQStream, cfg.Streams.DLQEmptyStream, log)

	executor := fetch.NewExecutor(fetch.Config{
		PoiBaseURL:         cfg.Provider.PoiBaseURL,
		HotelBaseURL:       cfg.Provider.HotelBaseURL,
		PageSize:           cfg.Collect.PageSize,
		DetailBatchSize:    cfg.Collect.DetailBatchSize,
		MaxAttempts:        cfg.Retry.MaxAttempts,
		BaseDelay:          cfg.Retry.BaseDelay,
		RateLimitBaseDelay: cfg.Retry.RateLimitBaseDelay,
		JitterMax:          cfg.Retry.JitterMax,
		ThrottleSleep:      cfg.Provider.ThrottleSleep,
		QPSLimit:           cfg.Provider.QPSLimit,
		RequestTimeout:     cfg.Provider.RequestTimeout,
	}, pool, log)

	state := taskstate.New(redisClient, models.JobPoiCollect)
	units := workunits.New(redisClient)
	valid := validator.New(cfg.Collect.BoundingBox, log)

	poiSink := sink.NewPoiSink(repo, repo, cfg.Collect.CommitSize, log)
	hotelSink := sink.NewHotelSink(repo, repo, log)

	poiRunner := orchestrator.NewPoiRunner(g, state, units, repo, executor, valid,
		poiSink, m, cfg.Collect, log)
	hotelRunner := orchestrator.NewHotelSyncRunner(g, repo, repo, executor,
		hotelSink, publisher, deadLetters, m, cfg.Collect, log)

	return &App{
		Cfg:         cfg,
		Log:         log,
		Redis:       redisClient,
		DB:          db,
		Repo:        repo,
		ES:          esClient,
		Pool:        pool,
		Gate:        g,
		State:       state,
		Units:       units,
		Metrics:     m,
		Cache:       schedule.New(repo, cfg.Scheduler.CacheTTL),
		Streams:     streamsClient,
		Publisher:   publisher,
		DeadLetters: deadLetters,
		PoiRunner:   poiRunner,
		HotelRunner: hotelRunner,
	}, nil
}

// NewBackfillWorker builds the stream-consuming backfill worker.
func (a *App) NewBackfillWorker(ctx context.Context) (*backfill.Worker, error) {
	consumer, err := streams.NewConsumer(ctx, a.Streams, streams.ConsumerConfig{
		Stream:   a.Cfg.Streams.EventStream,
		Group:    a.Cfg.Streams.ConsumerGroup,
		Consumer: a.Cfg.Streams.ConsumerName,
	})
	if err != nil {
		return nil, fmt.Errorf("create event consumer: %w", err)
	}

	writer := index.NewWriter(a.ES, a.Cfg.Elasticsearch.HotelIndex, a.Log)
	service := backfill.NewService(a.Repo, parser.NewRegistry(), writer, a.DeadLetters, a.Log)
	return backfill.NewWorker(consumer, service, a.Log), nil
}

// NewDeadLetterAlerter builds the aggregating alerter over both DLQ
// streams.
func (a *App) NewDeadLetterAlerter(ctx context.Context) (*dlq.Alerter, error) {
	consumers := make([]*streams.Consumer, 0, 2)
	for _, stream := range []string{a.Cfg.Streams.DLQStream, a.Cfg.Streams.DLQEmptyStream} {
		consumer, err := streams.NewConsumer(ctx, a.Streams, streams.ConsumerConfig{
			Stream:   stream,
			Group:    a.Cfg.Streams.ConsumerGroup + ":alerts",
			Consumer: a.Cfg.Streams.ConsumerName,
		})
		if err != nil {
			return nil, fmt.Errorf("create dead-letter consumer for %s: %w", stream, err)
		}
		consumers = append(consumers, consumer)
	}

	return dlq.NewAlerter(consumers, dlq.NewLogNotifier(a.Log), dlq.AlerterConfig{}, a.Log), nil
}

// Close releases held connections.
func (a *App) Close() {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Log.Error("database close failed", logger.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Error("redis close failed", logger.Error(err))
		}
	}
	_ = a.Log.Sync()
}
