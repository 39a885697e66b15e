package orchestrator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"ephemeris-service/cache"
	"ephemeris-service/datasource"
	"ephemeris-service/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fetchCall struct {
	planet models.Planet
	bucket time.Time
}

type fakeSource struct {
	mu         sync.Mutex
	calls      []fetchCall
	longitudes map[models.Planet]float64
	speed      float64
	err        error
	block      bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		longitudes: map[models.Planet]float64{
			models.Sun:  200,
			models.Mars: 20,
			models.Moon: 110,
		},
		speed: 0.5,
	}
}

func (f *fakeSource) FetchPosition(ctx context.Context, planet models.Planet, hourBucket time.Time) (models.PlanetPosition, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{planet, hourBucket})
	block, err := f.block, f.err
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return models.PlanetPosition{}, ctx.Err()
	}
	if err != nil {
		return models.PlanetPosition{}, err
	}
	return models.PlanetPosition{
		Planet:     planet,
		HourBucket: hourBucket,
		Longitude:  f.longitudes[planet],
		Latitude:   1.25,
		Speed:      f.speed,
		Distance:   1.5,
	}, nil
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

type recordingSink struct {
	mu      sync.Mutex
	records []models.MetricRecord
	err     error
}

func (s *recordingSink) Record(_ context.Context, rec models.MetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) Records() []models.MetricRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MetricRecord(nil), s.records...)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, models.Planet, time.Time) (models.PlanetPosition, bool, error) {
	return models.PlanetPosition{}, false, &cache.StoreError{Op: "get", Backend: "broken", Err: errors.New("connection refused")}
}

func (brokenStore) Put(context.Context, models.Planet, time.Time, models.PlanetPosition) error {
	return &cache.StoreError{Op: "put", Backend: "broken", Err: errors.New("connection refused")}
}

func (brokenStore) Close() error { return nil }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type harness struct {
	orch   *Orchestrator
	store  *cache.MemoryStore
	source *fakeSource
	sink   *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  cache.NewMemoryStore(cache.Options{}),
		source: newFakeSource(),
		sink:   &recordingSink{},
	}
	h.orch = New(h.store, h.source, h.sink, quietLogger(), DefaultConfig())
	return h
}

func TestHandleMissThenHit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bucket := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	first, err := h.orch.Handle(ctx, PositionRequest{Planet: "mars", Date: "2025-03-10T14:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, models.CacheMiss, first.CacheStatus)
	assert.Equal(t, models.Mars, first.Planet)
	assert.True(t, first.Date.Equal(bucket))
	assert.Equal(t, models.Aries, first.ZodiacSign)
	assert.InDelta(t, 20, first.ZodiacDegree, 1e-9)
	require.Equal(t, []fetchCall{{models.Mars, bucket}}, h.source.Calls())
	assert.Equal(t, 1, h.store.Len())

	second, err := h.orch.Handle(ctx, PositionRequest{Planet: "mars", Date: "2025-03-10T14:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, models.CacheHit, second.CacheStatus)
	assert.Equal(t, first.Longitude, second.Longitude)
	assert.Len(t, h.source.Calls(), 1)

	recs := h.sink.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, models.CacheMiss, recs[0].CacheStatus)
	assert.Equal(t, models.SourceHorizons, recs[0].Source)
	assert.Equal(t, models.CacheHit, recs[1].CacheStatus)
	assert.Equal(t, models.SourceCache, recs[1].Source)
	for _, rec := range recs {
		assert.Equal(t, EndpointPosition, rec.Endpoint)
		assert.Equal(t, http.StatusOK, rec.StatusCode)
		assert.Equal(t, "mars", rec.Planet)
		assert.True(t, rec.HourBucket.Equal(bucket))
	}
}

func TestHandleBucketsWithinTheHour(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Handle(ctx, PositionRequest{Planet: "Mars", Date: "2025-03-10T14:59:59Z"})
	require.NoError(t, err)

	// 18:37 in Dubai (UTC+4, no DST) is 14:37Z
	resp, err := h.orch.Handle(ctx, PositionRequest{Planet: "mars", Date: "2025-03-10T18:37", Timezone: "Asia/Dubai"})
	require.NoError(t, err)
	assert.Equal(t, models.CacheHit, resp.CacheStatus)

	resp, err = h.orch.Handle(ctx, PositionRequest{Planet: "mars", Date: "2025-03-10T16:05:00+02:00"})
	require.NoError(t, err)
	assert.Equal(t, models.CacheHit, resp.CacheStatus)

	assert.Len(t, h.source.Calls(), 1)
}

func TestHandleValidation(t *testing.T) {
	cases := []struct {
		name  string
		req   PositionRequest
		field string
	}{
		{"missing planet", PositionRequest{Date: "2025-03-10T14:00:00Z"}, "planet"},
		{"unknown planet", PositionRequest{Planet: "pluto", Date: "2025-03-10T14:00:00Z"}, "planet"},
		{"missing date", PositionRequest{Planet: "mars"}, "date"},
		{"malformed date", PositionRequest{Planet: "mars", Date: "10/03/2025"}, "date"},
		{"unknown timezone", PositionRequest{Planet: "mars", Date: "2025-03-10T14:00", Timezone: "Mars/Olympus"}, "timezone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)

			_, err := h.orch.Handle(context.Background(), tc.req)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
			assert.Equal(t, http.StatusBadRequest, StatusCode(err))

			assert.Empty(t, h.source.Calls())
			assert.Equal(t, 0, h.store.Len())
			hits, misses := h.store.CacheStats()
			assert.Zero(t, hits+misses)

			recs := h.sink.Records()
			require.Len(t, recs, 1)
			assert.Equal(t, models.CacheError, recs[0].CacheStatus)
			assert.Equal(t, http.StatusBadRequest, recs[0].StatusCode)
			assert.Equal(t, models.SourceNone, recs[0].Source)
		})
	}
}

func TestHandleAcquisitionFailure(t *testing.T) {
	h := newHarness(t)
	h.source.err = errors.New("Horizons API error (status 503)")

	_, err := h.orch.Handle(context.Background(), PositionRequest{Planet: "venus", Date: "2025-03-10T14:00:00Z"})
	var acqErr *datasource.AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, models.Venus, acqErr.Planet)
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.Equal(t, 0, h.store.Len())

	recs := h.sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, models.CacheError, recs[0].CacheStatus)
	assert.Equal(t, http.StatusInternalServerError, recs[0].StatusCode)
	assert.Contains(t, recs[0].Error, "status 503")
}

func TestHandleKeepsAcquisitionErrorFromRetries(t *testing.T) {
	h := newHarness(t)
	h.source.err = errors.New("connection reset")
	retrying := datasource.NewRetryingSource(h.source, datasource.RetryConfig{MaxAttempts: 3}, quietLogger())
	orch := New(h.store, retrying, h.sink, quietLogger(), DefaultConfig())

	_, err := orch.Handle(context.Background(), PositionRequest{Planet: "saturn", Date: "2025-03-10T14:00:00Z"})
	var acqErr *datasource.AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, 3, acqErr.Attempts)
	assert.Len(t, h.source.Calls(), 3)
}

func TestHandleDegradesOnCacheFailure(t *testing.T) {
	source := newFakeSource()
	sink := &recordingSink{}
	orch := New(brokenStore{}, source, sink, quietLogger(), DefaultConfig())

	for i := 0; i < 2; i++ {
		resp, err := orch.Handle(context.Background(), PositionRequest{Planet: "mars", Date: "2025-03-10T14:00:00Z"})
		require.NoError(t, err)
		assert.Equal(t, models.CacheMiss, resp.CacheStatus)
	}
	assert.Len(t, source.Calls(), 2)
	assert.Len(t, sink.Records(), 2)
}

func TestHandleSwallowsMetricFailure(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("metrics table is locked")

	resp, err := h.orch.Handle(context.Background(), PositionRequest{Planet: "mars", Date: "2025-03-10T14:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, models.CacheMiss, resp.CacheStatus)

	_, err = h.orch.Handle(context.Background(), PositionRequest{Planet: "pluto", Date: "2025-03-10T14:00:00Z"})
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestHandleRequestDeadline(t *testing.T) {
	h := newHarness(t)
	h.source.block = true
	orch := New(h.store, h.source, h.sink, quietLogger(), Config{RequestDeadline: 20 * time.Millisecond})

	start := time.Now()
	_, err := orch.Handle(context.Background(), PositionRequest{Planet: "mars", Date: "2025-03-10T14:00:00Z"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	recs := h.sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, http.StatusInternalServerError, recs[0].StatusCode)
}

func TestHandleConcurrentMissesConverge(t *testing.T) {
	h := newHarness(t)
	const n = 8

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Handle(context.Background(), PositionRequest{Planet: "mars", Date: "2025-03-10T14:00:00Z"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, h.store.Len())
	calls := len(h.source.Calls())
	assert.GreaterOrEqual(t, calls, 1)
	assert.LessOrEqual(t, calls, n)
	assert.Len(t, h.sink.Records(), n)
}

func TestRejectRecordsOneMetric(t *testing.T) {
	h := newHarness(t)

	err := h.orch.Reject(context.Background(), EndpointStrength, errors.New("unexpected EOF"))
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "invalid request: unexpected EOF", err.Error())
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.Empty(t, h.source.Calls())

	recs := h.sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, EndpointStrength, recs[0].Endpoint)
	assert.Equal(t, models.CacheError, recs[0].CacheStatus)
	assert.Equal(t, models.SourceNone, recs[0].Source)
	assert.Equal(t, http.StatusBadRequest, recs[0].StatusCode)
	assert.Equal(t, err.Error(), recs[0].Error)
}
