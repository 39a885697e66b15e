package metrics

import (
	"context"
	"fmt"

	"ephemeris-service/models"

	"github.com/jmoiron/sqlx"
)

const metricsSchema = `
	CREATE TABLE IF NOT EXISTS api_metrics (
		id           TEXT    PRIMARY KEY,
		endpoint     TEXT    NOT NULL,
		planet       TEXT    NOT NULL DEFAULT '',
		hour_bucket  BIGINT  NOT NULL DEFAULT 0,
		cache_status TEXT    NOT NULL,
		source       TEXT    NOT NULL,
		latency_ms   BIGINT  NOT NULL,
		status_code  INTEGER NOT NULL,
		error        TEXT    NOT NULL DEFAULT '',
		created_at   BIGINT  NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_api_metrics_created ON api_metrics(created_at);
`

const insertMetric = `
	INSERT INTO api_metrics
		(id, endpoint, planet, hour_bucket, cache_status, source, latency_ms, status_code, error, created_at)
	VALUES
		(:id, :endpoint, :planet, :hour_bucket, :cache_status, :source, :latency_ms, :status_code, :error, :created_at)
`

type metricRow struct {
	ID          string `db:"id"`
	Endpoint    string `db:"endpoint"`
	Planet      string `db:"planet"`
	HourBucket  int64  `db:"hour_bucket"`
	CacheStatus string `db:"cache_status"`
	Source      string `db:"source"`
	LatencyMs   int64  `db:"latency_ms"`
	StatusCode  int    `db:"status_code"`
	Error       string `db:"error"`
	CreatedAt   int64  `db:"created_at"`
}

// SQLSink appends records to an api_metrics table
type SQLSink struct {
	db *sqlx.DB
}

// NewSQLSink creates the table when missing and returns a sink sharing db
func NewSQLSink(ctx context.Context, db *sqlx.DB) (*SQLSink, error) {
	if _, err := db.ExecContext(ctx, metricsSchema); err != nil {
		return nil, fmt.Errorf("failed to create api_metrics table: %w", err)
	}
	return &SQLSink{db: db}, nil
}

func (s *SQLSink) Record(ctx context.Context, rec models.MetricRecord) error {
	row := metricRow{
		ID:          rec.ID,
		Endpoint:    rec.Endpoint,
		Planet:      rec.Planet,
		CacheStatus: string(rec.CacheStatus),
		Source:      rec.Source,
		LatencyMs:   rec.LatencyMs,
		StatusCode:  rec.StatusCode,
		Error:       rec.Error,
		CreatedAt:   rec.CreatedAt.UnixMilli(),
	}
	if !rec.HourBucket.IsZero() {
		row.HourBucket = rec.HourBucket.UnixMilli()
	}

	if _, err := s.db.NamedExecContext(ctx, insertMetric, row); err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	return nil
}

// Close leaves the shared handle open; its owner closes it
func (s *SQLSink) Close() error { return nil }

var _ Sink = (*SQLSink)(nil)
