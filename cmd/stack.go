package cmd

import (
	"context"
	"errors"
	"fmt"

	"ephemeris-service/cache"
	"ephemeris-service/config"
	"ephemeris-service/datasource"
	"ephemeris-service/metrics"
	"ephemeris-service/orchestrator"
	"ephemeris-service/providers/horizons"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// stack is the wired request pipeline
type stack struct {
	store  cache.Store
	db     *sqlx.DB // set for SQL backed caches
	source datasource.PositionSource
	sink   metrics.Sink
	orch   *orchestrator.Orchestrator
}

// buildStack opens the cache, the upstream source chain and the metric sinks
func buildStack(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*stack, error) {
	s := &stack{}

	store, db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	s.store, s.db = store, db

	s.source = buildSource(cfg, logger)

	sink, err := buildSink(ctx, cfg, db, logger)
	if err != nil {
		s.store.Close()
		return nil, err
	}
	s.sink = sink

	s.orch = orchestrator.New(s.store, s.source, s.sink, logger, cfg.OrchestratorConfig())
	logger.WithFields(logrus.Fields{
		"cache":   cfg.Cache.Driver,
		"sinks":   cfg.Metrics.Sinks,
		"source":  s.source.Name(),
		"horizon": cfg.Horizons.BaseURL,
	}).Debug("Pipeline ready")
	return s, nil
}

func openStore(cfg *config.Config) (cache.Store, *sqlx.DB, error) {
	opts := cfg.CacheOptions()
	switch cfg.Cache.Driver {
	case config.DriverMemory:
		return cache.NewMemoryStore(opts), nil, nil
	case config.DriverRedis:
		store, err := cache.NewRedisStore(cfg.RedisOptions(), opts)
		if err != nil {
			return nil, nil, fmt.Errorf("opening cache: %w", err)
		}
		return store, nil, nil
	default:
		store, err := cache.OpenSQLStore(cfg.Cache.Driver, cfg.CacheDSN(), opts)
		if err != nil {
			return nil, nil, fmt.Errorf("opening cache: %w", err)
		}
		return store, store.DB(), nil
	}
}

// buildSource chains Horizons behind a rate limiter and the retry policy,
// so every retry attempt also waits for a token
func buildSource(cfg *config.Config, logger *logrus.Logger) datasource.PositionSource {
	var source datasource.PositionSource = horizons.NewClient(cfg.HorizonsClientConfig(), nil)
	if cfg.Horizons.RateLimit > 0 {
		source = datasource.NewRateLimitedSource(source, cfg.Horizons.RateLimit, cfg.Horizons.Burst)
	}
	return datasource.NewRetryingSource(source, cfg.RetryPolicy(), logger)
}

func buildSink(ctx context.Context, cfg *config.Config, db *sqlx.DB, logger *logrus.Logger) (metrics.Sink, error) {
	var sinks metrics.Multi
	for _, name := range cfg.Metrics.Sinks {
		switch name {
		case config.SinkLog:
			sinks = append(sinks, metrics.NewLogSink(logger))
		case config.SinkSQL:
			if db == nil {
				sinks.Close()
				return nil, errors.New("sql metrics sink needs a sql cache")
			}
			sink, err := metrics.NewSQLSink(ctx, db)
			if err != nil {
				sinks.Close()
				return nil, err
			}
			sinks = append(sinks, sink)
		case config.SinkKafka:
			sinks = append(sinks, metrics.NewKafkaSink(cfg.Metrics.Kafka.Brokers, cfg.Metrics.Kafka.Topic, logger))
		case config.SinkClickHouse:
			sink, err := metrics.NewClickHouseSink(ctx, cfg.Metrics.ClickHouse.DSN)
			if err != nil {
				sinks.Close()
				return nil, err
			}
			sinks = append(sinks, sink)
		}
	}

	switch len(sinks) {
	case 0:
		return metrics.Nop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// Close flushes the sinks before closing the store they may share
func (s *stack) Close() error {
	return errors.Join(s.sink.Close(), s.store.Close())
}
