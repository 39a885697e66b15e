package metrics

import (
	"context"
	"fmt"
	"time"

	"ephemeris-service/models"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const clickhouseSchema = `
	CREATE TABLE IF NOT EXISTS api_metrics (
		id           UUID,
		endpoint     LowCardinality(String),
		planet       LowCardinality(String),
		hour_bucket  DateTime('UTC'),
		cache_status LowCardinality(String),
		source       LowCardinality(String),
		latency_ms   Int64,
		status_code  UInt16,
		error        String,
		created_at   DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	ORDER BY (endpoint, created_at)
`

const clickhouseInsert = `
	INSERT INTO api_metrics
		(id, endpoint, planet, hour_bucket, cache_status, source, latency_ms, status_code, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// ClickHouseSink appends records to a MergeTree table
type ClickHouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink parses the DSN, connects, verifies connectivity and creates the table
func NewClickHouseSink(ctx context.Context, dsn string) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	if err := conn.Exec(ctx, clickhouseSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create api_metrics table: %w", err)
	}
	return &ClickHouseSink{conn: conn}, nil
}

func (c *ClickHouseSink) Record(ctx context.Context, rec models.MetricRecord) error {
	if err := c.conn.Exec(ctx, clickhouseInsert, clickhouseArgs(rec)...); err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	return nil
}

func (c *ClickHouseSink) Close() error {
	return c.conn.Close()
}

// clickhouseArgs orders the record fields to match clickhouseInsert
func clickhouseArgs(rec models.MetricRecord) []any {
	bucket := rec.HourBucket
	if bucket.IsZero() {
		bucket = time.Unix(0, 0).UTC()
	}
	return []any{
		rec.ID,
		rec.Endpoint,
		rec.Planet,
		bucket,
		string(rec.CacheStatus),
		rec.Source,
		rec.LatencyMs,
		uint16(rec.StatusCode),
		rec.Error,
		rec.CreatedAt,
	}
}

var _ Sink = (*ClickHouseSink)(nil)
