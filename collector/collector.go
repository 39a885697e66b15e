package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ephemeris-service/cache"
	"ephemeris-service/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Resolver looks up a position through the cache, fetching and storing it on a miss
type Resolver interface {
	Resolve(ctx context.Context, planet models.Planet, hourBucket time.Time) (models.PlanetPosition, models.CacheStatus, error)
}

// Config holds the warmer schedule
type Config struct {
	Interval     time.Duration   // Time between runs
	Hours        int             // Hour buckets to keep warm, starting with the current one
	Concurrency  int             // Resolves in flight at once
	FetchTimeout time.Duration   // Bound on a single resolve, 0 means unbounded
	Planets      []models.Planet // Bodies to warm, all when empty
}

// DefaultConfig warms the next six hours for every planet every 30 minutes
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Minute,
		Hours:        6,
		Concurrency:  4,
		FetchTimeout: 2 * time.Minute,
		Planets:      models.Planets,
	}
}

// Result summarises one warm-up run
type Result struct {
	Hits     int
	Misses   int
	Failures int
	Pruned   int
}

// Warmer keeps upcoming hour buckets in the cache so requests hit
type Warmer struct {
	resolver Resolver
	pruner   cache.Pruner
	config   Config
	logger   logrus.FieldLogger

	now func() time.Time
}

// NewWarmer creates a warmer. pruner may be nil when the store expires entries itself.
func NewWarmer(resolver Resolver, pruner cache.Pruner, config Config, logger logrus.FieldLogger) *Warmer {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Hours <= 0 {
		config.Hours = 1
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if len(config.Planets) == 0 {
		config.Planets = models.Planets
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Warmer{
		resolver: resolver,
		pruner:   pruner,
		config:   config,
		logger:   logger.WithField("component", "warmer"),
		now:      time.Now,
	}
}

// Start runs the warmer immediately and then on every interval.
// The returned function stops it and waits for the current run to finish.
func (w *Warmer) Start(ctx context.Context) func() {
	warmCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(w.config.Interval)
		defer ticker.Stop()

		w.run(warmCtx)
		for {
			select {
			case <-ticker.C:
				w.run(warmCtx)
			case <-warmCtx.Done():
				return
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (w *Warmer) run(ctx context.Context) {
	res, err := w.RunOnce(ctx)
	if err != nil {
		w.logger.WithError(err).Debug("Warm-up interrupted")
		return
	}
	w.logger.WithFields(logrus.Fields{
		"hits":     res.Hits,
		"misses":   res.Misses,
		"failures": res.Failures,
		"pruned":   res.Pruned,
	}).Info("Cache warm-up complete")
}

// RunOnce resolves every planet for the configured hour buckets, then prunes
// expired entries. Individual failures are counted and logged, not returned;
// the error reports only cancellation of ctx.
func (w *Warmer) RunOnce(ctx context.Context) (Result, error) {
	first := models.HourBucket(w.now())

	var hits, misses, failures atomic.Int64
	var g errgroup.Group
	g.SetLimit(w.config.Concurrency)

	for h := 0; h < w.config.Hours; h++ {
		bucket := first.Add(time.Duration(h) * time.Hour)
		for _, planet := range w.config.Planets {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				switch status, err := w.resolve(ctx, planet, bucket); {
				case err != nil:
					failures.Add(1)
					w.logger.WithError(err).WithFields(logrus.Fields{
						"planet": planet,
						"bucket": bucket.Format(time.RFC3339),
					}).Warn("Failed to warm position")
				case status == models.CacheHit:
					hits.Add(1)
				default:
					misses.Add(1)
				}
				return nil
			})
		}
	}
	g.Wait()

	res := Result{
		Hits:     int(hits.Load()),
		Misses:   int(misses.Load()),
		Failures: int(failures.Load()),
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if w.pruner != nil {
		n, err := w.pruner.Prune(ctx)
		if err != nil {
			w.logger.WithError(err).Warn("Failed to prune expired positions")
		}
		res.Pruned = n
	}
	return res, nil
}

func (w *Warmer) resolve(ctx context.Context, planet models.Planet, bucket time.Time) (models.CacheStatus, error) {
	if w.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.FetchTimeout)
		defer cancel()
	}
	_, status, err := w.resolver.Resolve(ctx, planet, bucket)
	return status, err
}
