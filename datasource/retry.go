package datasource

import (
	"context"
	"fmt"
	"math"
	"time"

	"ephemeris-service/models"

	"github.com/sirupsen/logrus"
)

// RetryConfig holds configuration for the acquisition retry policy
type RetryConfig struct {
	MaxAttempts    int           // Total attempts, including the first
	BaseDelay      time.Duration // Wait after the first failure
	Multiplier     float64       // Growth factor between consecutive waits
	MaxDelay       time.Duration // Upper bound on a single wait, 0 means unbounded
	AttemptTimeout time.Duration // Bound on each individual attempt, 0 means unbounded
}

// DefaultRetryConfig returns 3 attempts, 1s then 2s backoff and a 30s bound per attempt
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      1 * time.Second,
		Multiplier:     2.0,
		AttemptTimeout: 30 * time.Second,
	}
}

// RetryingSource wraps a PositionSource and retries failed fetches with exponential backoff.
// Every error is retryable. Waiting blocks only the calling goroutine.
type RetryingSource struct {
	source PositionSource
	config RetryConfig
	logger logrus.FieldLogger

	// wait is swapped out in tests to observe backoff without sleeping
	wait func(ctx context.Context, d time.Duration) error
}

// NewRetryingSource creates a retrying wrapper around source
func NewRetryingSource(source PositionSource, config RetryConfig, logger logrus.FieldLogger) *RetryingSource {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BaseDelay < 0 {
		config.BaseDelay = 0
	}
	if config.Multiplier < 1.0 {
		config.Multiplier = 1.0
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &RetryingSource{
		source: source,
		config: config,
		logger: logger.WithField("source", source.Name()),
		wait:   sleepContext,
	}
}

// Name returns the underlying source name
func (r *RetryingSource) Name() string {
	return r.source.Name()
}

// FetchPosition fetches a position, retrying according to the configured policy
func (r *RetryingSource) FetchPosition(ctx context.Context, planet models.Planet, hourBucket time.Time) (models.PlanetPosition, error) {
	log := r.logger.WithFields(logrus.Fields{
		"planet": planet,
		"bucket": hourBucket.Format(time.RFC3339),
	})

	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		attempts = attempt
		pos, err := r.attempt(ctx, planet, hourBucket)
		if err == nil {
			if attempt > 1 {
				log.Infof("Fetch succeeded on attempt %d", attempt)
			}
			return pos, nil
		}
		lastErr = err

		if attempt == r.config.MaxAttempts {
			log.WithError(err).Errorf("All %d attempts failed", attempt)
			break
		}

		delay := r.Delay(attempt)
		log.WithError(err).Warnf("Attempt %d failed, retrying in %v", attempt, delay)

		if err := r.wait(ctx, delay); err != nil {
			break
		}
	}

	return models.PlanetPosition{}, &AcquisitionError{
		Source:     r.source.Name(),
		Planet:     planet,
		HourBucket: hourBucket,
		Attempts:   attempts,
		Err:        lastErr,
	}
}

// attempt runs a single fetch bounded by the per-attempt timeout
func (r *RetryingSource) attempt(ctx context.Context, planet models.Planet, hourBucket time.Time) (models.PlanetPosition, error) {
	if r.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.AttemptTimeout)
		defer cancel()
	}

	pos, err := r.source.FetchPosition(ctx, planet, hourBucket)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return pos, fmt.Errorf("attempt timed out after %v: %w", r.config.AttemptTimeout, err)
		}
		return pos, err
	}
	return pos, nil
}

// Delay returns the wait that follows the given failed attempt (1-based)
func (r *RetryingSource) Delay(attempt int) time.Duration {
	delay := float64(r.config.BaseDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if r.config.MaxDelay > 0 && delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ PositionSource = (*RetryingSource)(nil)
