package client

import (
	"context"
	"fmt"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"sentinel-service/internal/config"
	"sentinel-service/internal/model"
	"sentinel-service/internal/util"
)

// ClickHouseClient records per-iteration ingestion statistics for long-term
// pipeline analytics.
type ClickHouseClient struct {
	conn   driver.Conn
	config *config.ClickhouseConfig
}

func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse
	if chConfig.Addr == "" {
		return nil, fmt.Errorf("CLICKHOUSE_ADDR is not configured")
	}

	opts := &ch.Options{
		Addr: []string{chConfig.Addr},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	client := &ClickHouseClient{
		conn:   conn,
		config: &chConfig,
	}
	if err := client.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	util.Info("ClickHouse client initialized",
		zap.String("addr", chConfig.Addr),
		zap.String("database", chConfig.Database),
	)
	return client, nil
}

func (c *ClickHouseClient) ensureSchema(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ingest_stats (
		run_id     String,
		started_at DateTime64(3, 'UTC'),
		fetched    UInt32,
		written    UInt32,
		dropped    UInt32,
		failed     UInt32,
		duration_ms UInt64
	) ENGINE = MergeTree() ORDER BY started_at`

	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create ingest_stats table: %w", err)
	}
	return nil
}

// InsertIngestStats appends one accounting row for a completed loop iteration.
func (c *ClickHouseClient) InsertIngestStats(ctx context.Context, stats model.IngestStats) error {
	err := c.conn.Exec(ctx,
		"INSERT INTO ingest_stats (run_id, started_at, fetched, written, dropped, failed, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)",
		stats.RunID,
		stats.StartedAt,
		uint32(stats.Fetched),
		uint32(stats.Written),
		uint32(stats.Dropped),
		uint32(stats.Failed),
		uint64(stats.Duration.Milliseconds()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ingest stats: %w", err)
	}
	return nil
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse ping failed: %w", err)
	}
	return nil
}

func (c *ClickHouseClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
