package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings, loaded from the environment with
// sensible defaults for local development.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Elasticsearch ElasticsearchConfig
	Processor     ProcessorConfig
	Scoring       ScoringConfig
	Reputation    ReputationConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	API           APIConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ElasticsearchConfig struct {
	URL            string
	Username       string
	Password       string
	SkipTLSVerify  bool
	SourceIndex    string
	ProcessedIndex string
}

type ProcessorConfig struct {
	PollInterval           time.Duration
	FailureBackoff         time.Duration
	PageSize               int
	PITKeepAlive           time.Duration
	LookbackWindow         time.Duration
	MaxConsecutiveFailures int
	BootstrapTimeout       time.Duration
	BootstrapInterval      time.Duration
	TransformConcurrency   int
}

type ScoringConfig struct {
	PrivilegedAccounts []string
	SuspiciousCommands []string
	RiskCountries      []string
	NightStartHour     int
	NightEndHour       int
}

type ReputationConfig struct {
	BaseURL             string
	APIKey              string
	MaxAgeDays          int
	ConfidenceThreshold int
	Timeout             time.Duration
	CacheTTL            time.Duration
}

type RedisConfig struct {
	URL      string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers    []string
	AlertTopic string
}

type ClickhouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

type APIConfig struct {
	Key               string
	MaxResultSize     int
	HighRiskThreshold int
}

// LoadConfig reads configuration from the environment. A .env file is loaded
// first when present so local runs match docker-compose deployments.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getInt("SERVER_PORT", 8080),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:            getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:       getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:       getEnv("ELASTICSEARCH_PASSWORD", ""),
			SkipTLSVerify:  getBool("ELASTICSEARCH_SKIP_TLS_VERIFY", false),
			SourceIndex:    getEnv("SOURCE_INDEX", "filebeat-*"),
			ProcessedIndex: getEnv("PROCESSED_INDEX", "sentinel-events"),
		},
		Processor: ProcessorConfig{
			PollInterval:           getDuration("PROCESSOR_POLL_INTERVAL", 5*time.Second),
			FailureBackoff:         getDuration("PROCESSOR_FAILURE_BACKOFF", 2*time.Second),
			PageSize:               getInt("PROCESSOR_PAGE_SIZE", 500),
			PITKeepAlive:           getDuration("PROCESSOR_PIT_KEEP_ALIVE", 60*time.Second),
			LookbackWindow:         getDuration("PROCESSOR_LOOKBACK_WINDOW", 5*time.Minute),
			MaxConsecutiveFailures: getInt("PROCESSOR_MAX_CONSECUTIVE_FAILURES", 5),
			BootstrapTimeout:       getDuration("PROCESSOR_BOOTSTRAP_TIMEOUT", 60*time.Second),
			BootstrapInterval:      getDuration("PROCESSOR_BOOTSTRAP_INTERVAL", 2*time.Second),
			TransformConcurrency:   getInt("PROCESSOR_TRANSFORM_CONCURRENCY", 8),
		},
		Scoring: ScoringConfig{
			PrivilegedAccounts: getList("SCORING_PRIVILEGED_ACCOUNTS", []string{"root", "admin"}),
			SuspiciousCommands: getList("SCORING_SUSPICIOUS_COMMANDS", []string{"wget", "curl", "apt-get", "yum", "chmod +x", "base64", "nc "}),
			RiskCountries:      getList("SCORING_RISK_COUNTRIES", []string{"Russia", "Russian Federation", "North Korea", "Iran", "China"}),
			NightStartHour:     getInt("SCORING_NIGHT_START_HOUR", 22),
			NightEndHour:       getInt("SCORING_NIGHT_END_HOUR", 5),
		},
		Reputation: ReputationConfig{
			BaseURL:             getEnv("REPUTATION_BASE_URL", "https://api.abuseipdb.com/api/v2/check"),
			APIKey:              getEnv("REPUTATION_API_KEY", ""),
			MaxAgeDays:          getInt("REPUTATION_MAX_AGE_DAYS", 90),
			ConfidenceThreshold: getInt("REPUTATION_CONFIDENCE_THRESHOLD", 75),
			Timeout:             getDuration("REPUTATION_TIMEOUT", 3*time.Second),
			CacheTTL:            getDuration("REPUTATION_CACHE_TTL", 6*time.Hour),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			DB:       getInt("REDIS_DB", 0),
			PoolSize: getInt("REDIS_POOL_SIZE", 20),
		},
		Kafka: KafkaConfig{
			Brokers:    getList("KAFKA_BROKERS", nil),
			AlertTopic: getEnv("KAFKA_ALERT_TOPIC", "sentinel-alerts"),
		},
		Clickhouse: ClickhouseConfig{
			Addr:     getEnv("CLICKHOUSE_ADDR", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "sentinel"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		API: APIConfig{
			Key:               getEnv("API_KEY", "change-me-very-secret"),
			MaxResultSize:     getInt("API_MAX_RESULT_SIZE", 100),
			HighRiskThreshold: getInt("API_HIGH_RISK_THRESHOLD", 70),
		},
	}
}

// Validate rejects configurations that cannot work in production.
func (c *Config) Validate() error {
	if c.Elasticsearch.URL == "" {
		return fmt.Errorf("ELASTICSEARCH_URL is required")
	}
	if c.Processor.PageSize <= 0 {
		return fmt.Errorf("PROCESSOR_PAGE_SIZE must be positive")
	}
	if c.API.MaxResultSize <= 0 {
		return fmt.Errorf("API_MAX_RESULT_SIZE must be positive")
	}
	if c.IsProduction() && c.API.Key == "change-me-very-secret" {
		return fmt.Errorf("API_KEY must be set in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) ServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
