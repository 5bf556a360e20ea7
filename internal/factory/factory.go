package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel-service/internal/client"
	"sentinel-service/internal/config"
	"sentinel-service/internal/processor"
	"sentinel-service/internal/reputation"
	"sentinel-service/internal/scoring"
	"sentinel-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	esClient         *client.ESClient
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Core components
	scorer            *scoring.Scorer
	reputationChecker *reputation.Checker
	processor         *processor.Processor

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeComponents()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("redis_enabled", factory.redisClient != nil),
		util.Bool("kafka_enabled", factory.kafkaProducer != nil),
		util.Bool("clickhouse_enabled", factory.clickhouseClient != nil),
	)

	return factory, nil
}

// initializeClients initializes external service clients. Elasticsearch is
// required; the cache, alert, and analytics clients degrade to disabled.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	esClient, err := client.NewElasticsearchClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("elasticsearch: %w", err)
	}
	f.esClient = esClient
	if err := f.esClient.HealthCheck(ctx); err != nil {
		// The processor waits for readiness itself; a failed probe here is
		// only worth a warning at startup.
		util.Warn("Elasticsearch not reachable yet", util.ErrorField(err))
	}

	if f.config.Redis.URL != "" {
		if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
			util.Warn("Redis initialization failed - reputation cache disabled", util.ErrorField(err))
		} else {
			f.redisClient = redisClient
		}
	}

	if len(f.config.Kafka.Brokers) > 0 {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - alerting disabled", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Clickhouse.Addr != "" {
		if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			util.Warn("ClickHouse initialization failed - ingest stats disabled", util.ErrorField(err))
		} else {
			f.clickhouseClient = chClient
		}
	}

	return nil
}

// initializeComponents wires the scoring pipeline and the ingestion loop.
func (f *Factory) initializeComponents() {
	f.scorer = scoring.NewScorer(f.config.Scoring)

	var cache reputation.VerdictCache
	if f.redisClient != nil {
		cache = f.redisClient
	}
	f.reputationChecker = reputation.NewChecker(f.config.Reputation, cache, util.Get())

	f.processor = processor.NewProcessor(
		f.config,
		f.esClient,
		f.esClient,
		f.scorer,
		f.reputationChecker,
		util.Get(),
	)
	if f.kafkaProducer != nil {
		f.processor.SetAlertPublisher(f.kafkaProducer)
	}
	if f.clickhouseClient != nil {
		f.processor.SetStatsSink(f.clickhouseClient)
	}
}

// HealthCheck reports per-dependency health for the configured clients.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	} else {
		healthErrors["elasticsearch"] = fmt.Errorf("elasticsearch client not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	return healthErrors
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) ESClient() *client.ESClient {
	return f.esClient
}

func (f *Factory) Processor() *processor.Processor {
	return f.processor
}
