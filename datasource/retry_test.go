package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"ephemeris-service/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource returns the queued errors in order, then succeeds
type scriptedSource struct {
	mu    sync.Mutex
	errs  []error
	calls int
	block bool
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) FetchPosition(ctx context.Context, planet models.Planet, hourBucket time.Time) (models.PlanetPosition, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	block := s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return models.PlanetPosition{}, ctx.Err()
	}
	if n <= len(s.errs) {
		return models.PlanetPosition{}, s.errs[n-1]
	}
	return models.PlanetPosition{Planet: planet, HourBucket: hourBucket, Longitude: 12.5}, nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func recordWaits(r *RetryingSource) *[]time.Duration {
	var waits []time.Duration
	r.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return &waits
}

var bucket = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func TestRetryPermanentFailure(t *testing.T) {
	src := &scriptedSource{errs: []error{
		errors.New("connection refused"),
		errors.New("status 503"),
		errors.New("missing $$SOE marker"),
	}}
	r := NewRetryingSource(src, DefaultRetryConfig(), quietLogger())
	waits := recordWaits(r)

	_, err := r.FetchPosition(context.Background(), models.Mars, bucket)
	require.Error(t, err)

	var acqErr *AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, 3, acqErr.Attempts)
	assert.Equal(t, models.Mars, acqErr.Planet)
	assert.EqualError(t, acqErr.Err, "missing $$SOE marker", "last observed error is surfaced")

	assert.Equal(t, 3, src.calls)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *waits, "no wait after the final attempt")
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	src := &scriptedSource{errs: []error{errors.New("timeout")}}
	r := NewRetryingSource(src, DefaultRetryConfig(), quietLogger())
	waits := recordWaits(r)

	pos, err := r.FetchPosition(context.Background(), models.Venus, bucket)
	require.NoError(t, err)
	assert.Equal(t, models.Venus, pos.Planet)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, []time.Duration{time.Second}, *waits)
}

func TestRetryDelaySchedule(t *testing.T) {
	r := NewRetryingSource(&scriptedSource{}, RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
	}, quietLogger())

	got := []time.Duration{r.Delay(1), r.Delay(2), r.Delay(3), r.Delay(4)}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}, got)
}

func TestRetryAttemptTimeout(t *testing.T) {
	src := &scriptedSource{block: true}
	cfg := RetryConfig{MaxAttempts: 2, AttemptTimeout: 20 * time.Millisecond}
	r := NewRetryingSource(src, cfg, quietLogger())

	start := time.Now()
	_, err := r.FetchPosition(context.Background(), models.Moon, bucket)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, src.calls, "a timed-out attempt counts as a failed attempt")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRetryStopsWhenCallerCancels(t *testing.T) {
	src := &scriptedSource{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	r := NewRetryingSource(src, DefaultRetryConfig(), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	r.wait = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := r.FetchPosition(ctx, models.Saturn, bucket)
	var acqErr *AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, 1, acqErr.Attempts)
	assert.Equal(t, 1, src.calls)
}

func TestRateLimitedSourceForwards(t *testing.T) {
	src := &scriptedSource{}
	rl := NewRateLimitedSource(src, 1000, 1)

	assert.Equal(t, "scripted [Rate Limited]", rl.Name())
	for i := 0; i < 3; i++ {
		_, err := rl.FetchPosition(context.Background(), models.Sun, bucket)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, src.calls)
}

func TestRateLimitedSourceHonoursCancellation(t *testing.T) {
	src := &scriptedSource{}
	rl := NewRateLimitedSource(src, 0.001, 1)

	_, err := rl.FetchPosition(context.Background(), models.Sun, bucket)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = rl.FetchPosition(ctx, models.Sun, bucket)
	require.Error(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestAcquisitionErrorMessage(t *testing.T) {
	err := &AcquisitionError{Source: "horizons", Planet: models.Mars, HourBucket: bucket, Attempts: 3, Err: fmt.Errorf("boom")}
	assert.Equal(t, "failed to acquire mars position at 2025-03-10T14:00:00Z from horizons after 3 attempt(s): boom", err.Error())
}
