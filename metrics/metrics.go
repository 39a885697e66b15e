// Package metrics records request observability events. Sinks are advisory:
// callers log and drop their errors, they never fail a request.
package metrics

import (
	"context"
	"errors"
	"time"

	"ephemeris-service/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sink receives metric records
type Sink interface {
	Record(ctx context.Context, rec models.MetricRecord) error
	Close() error
}

// NewRecord stamps a record with an ID and creation time
func NewRecord(endpoint string) models.MetricRecord {
	return models.MetricRecord{
		ID:        uuid.New().String(),
		Endpoint:  endpoint,
		CreatedAt: time.Now().UTC(),
	}
}

// Nop discards every record
type Nop struct{}

func (Nop) Record(context.Context, models.MetricRecord) error { return nil }
func (Nop) Close() error                                       { return nil }

// LogSink writes each record as a structured log line
type LogSink struct {
	logger logrus.FieldLogger
}

// NewLogSink creates a sink that logs at info level
func NewLogSink(logger logrus.FieldLogger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Record(_ context.Context, rec models.MetricRecord) error {
	entry := l.logger.WithFields(logrus.Fields{
		"metric_id":    rec.ID,
		"endpoint":     rec.Endpoint,
		"planet":       rec.Planet,
		"cache_status": rec.CacheStatus,
		"source":       rec.Source,
		"latency_ms":   rec.LatencyMs,
		"status_code":  rec.StatusCode,
	})
	if !rec.HourBucket.IsZero() {
		entry = entry.WithField("bucket", rec.HourBucket.Format(time.RFC3339))
	}
	if rec.Error != "" {
		entry = entry.WithField("error", rec.Error)
	}
	entry.Info("request metric")
	return nil
}

func (l *LogSink) Close() error { return nil }

// Multi fans a record out to several sinks and joins their errors
type Multi []Sink

func (m Multi) Record(ctx context.Context, rec models.MetricRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Sink = Nop{}
	_ Sink = (*LogSink)(nil)
	_ Sink = Multi(nil)
)
