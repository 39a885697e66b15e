// Package orchestrator serves position requests: cache first, then the
// upstream source, then a best-effort cache write, with one metric per request.
package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ephemeris-service/cache"
	"ephemeris-service/datasource"
	"ephemeris-service/metrics"
	"ephemeris-service/models"

	"github.com/sirupsen/logrus"
)

// Metric endpoint names
const (
	EndpointPosition = "planet-position"
	EndpointStrength = "planet-strength"
	EndpointDayRuler = "day-ruler"
)

// Config bounds the time spent on a request
type Config struct {
	StoreTimeout    time.Duration // Bound on each cache read or write, 0 means unbounded
	RequestDeadline time.Duration // End-to-end bound on a request, 0 means unbounded
}

// DefaultConfig allows three 30s attempts plus backoff before giving up on a request
func DefaultConfig() Config {
	return Config{
		StoreTimeout:    2 * time.Second,
		RequestDeadline: 95 * time.Second,
	}
}

// Orchestrator holds no per-request state and is safe for concurrent use
type Orchestrator struct {
	store  cache.Store
	source datasource.PositionSource
	sink   metrics.Sink
	logger logrus.FieldLogger
	config Config
}

// New wires an orchestrator. A nil sink discards metrics.
func New(store cache.Store, source datasource.PositionSource, sink metrics.Sink, logger logrus.FieldLogger, config Config) *Orchestrator {
	if sink == nil {
		sink = metrics.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		store:  store,
		source: source,
		sink:   sink,
		logger: logger,
		config: config,
	}
}

// PositionResponse is a position plus where it came from
type PositionResponse struct {
	Planet         models.Planet      `json:"planet"`
	Date           time.Time          `json:"date"`
	Longitude      float64            `json:"longitude"`
	Latitude       float64            `json:"latitude"`
	Speed          float64            `json:"speed"`
	Distance       float64            `json:"distance"`
	ZodiacSign     models.ZodiacSign  `json:"zodiac_sign"`
	ZodiacDegree   float64            `json:"zodiac_degree"`
	Retrograde     bool               `json:"is_retrograde"`
	CacheStatus    models.CacheStatus `json:"cache_status"`
	ResponseTimeMs int64              `json:"response_time_ms"`

	Position models.PlanetPosition `json:"-"`
}

func newPositionResponse(pos models.PlanetPosition, status models.CacheStatus) PositionResponse {
	return PositionResponse{
		Planet:       pos.Planet,
		Date:         pos.HourBucket,
		Longitude:    pos.Longitude,
		Latitude:     pos.Latitude,
		Speed:        pos.Speed,
		Distance:     pos.Distance,
		ZodiacSign:   pos.ZodiacSign(),
		ZodiacDegree: pos.ZodiacDegree(),
		Retrograde:   pos.IsRetrograde(),
		CacheStatus:  status,
		Position:     pos,
	}
}

// Handle resolves one position request
func (o *Orchestrator) Handle(ctx context.Context, req PositionRequest) (PositionResponse, error) {
	start := time.Now()
	rec := metrics.NewRecord(EndpointPosition)

	planet, t, err := req.validate()
	if err != nil {
		rec.Planet = req.Planet
		o.emit(ctx, rec, start, models.CacheError, err)
		return PositionResponse{}, err
	}
	rec.Planet = string(planet)
	rec.HourBucket = models.HourBucket(t)

	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	pos, status, err := o.Resolve(ctx, planet, rec.HourBucket)
	o.emit(ctx, rec, start, status, err)
	if err != nil {
		return PositionResponse{}, err
	}

	resp := newPositionResponse(pos, status)
	resp.ResponseTimeMs = time.Since(start).Milliseconds()
	return resp, nil
}

// Resolve returns the position of planet at hourBucket from the cache when a
// live entry exists, otherwise from the source. A fresh position is written
// back on a best-effort basis. Cache failures never fail the call.
func (o *Orchestrator) Resolve(ctx context.Context, planet models.Planet, hourBucket time.Time) (models.PlanetPosition, models.CacheStatus, error) {
	hourBucket = models.HourBucket(hourBucket)
	log := o.logger.WithFields(logrus.Fields{
		"planet": planet,
		"bucket": hourBucket.Format(time.RFC3339),
	})

	getCtx, cancel := o.storeContext(ctx)
	pos, ok, err := o.store.Get(getCtx, planet, hourBucket)
	cancel()
	switch {
	case err != nil:
		log.WithError(err).Warn("Cache read failed, fetching fresh position")
	case ok:
		return pos, models.CacheHit, nil
	}

	pos, err = o.source.FetchPosition(ctx, planet, hourBucket)
	if err != nil {
		var acqErr *datasource.AcquisitionError
		if !errors.As(err, &acqErr) {
			err = &datasource.AcquisitionError{
				Source:     o.source.Name(),
				Planet:     planet,
				HourBucket: hourBucket,
				Attempts:   1,
				Err:        err,
			}
		}
		return models.PlanetPosition{}, models.CacheError, err
	}
	pos.Planet = planet
	pos.HourBucket = hourBucket

	putCtx, cancel := o.storeContext(ctx)
	defer cancel()
	if err := o.store.Put(putCtx, planet, hourBucket, pos); err != nil {
		log.WithError(err).Warn("Cache write failed, serving uncached position")
	}
	return pos, models.CacheMiss, nil
}

// Reject records a request the transport could not decode for endpoint and
// returns it as a ValidationError
func (o *Orchestrator) Reject(ctx context.Context, endpoint string, cause error) error {
	err := &ValidationError{Field: "request", Reason: cause.Error()}
	o.emit(ctx, metrics.NewRecord(endpoint), time.Now(), models.CacheError, err)
	return err
}

func (o *Orchestrator) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.config.RequestDeadline > 0 {
		return context.WithTimeout(ctx, o.config.RequestDeadline)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.config.StoreTimeout > 0 {
		return context.WithTimeout(ctx, o.config.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

// emit completes rec from the outcome and hands it to the sink. Sink failures are logged and dropped.
func (o *Orchestrator) emit(ctx context.Context, rec models.MetricRecord, start time.Time, status models.CacheStatus, err error) {
	rec.LatencyMs = time.Since(start).Milliseconds()
	rec.CacheStatus = status
	rec.StatusCode = StatusCode(err)
	switch {
	case err != nil:
		rec.Source = models.SourceNone
		rec.Error = err.Error()
	case status == models.CacheHit:
		rec.Source = models.SourceCache
	default:
		rec.Source = models.SourceHorizons
	}

	// The request context may already be past its deadline; the metric still goes out
	mctx, cancel := o.storeContext(context.WithoutCancel(ctx))
	defer cancel()
	if serr := o.sink.Record(mctx, rec); serr != nil {
		o.logger.WithError(serr).WithField("endpoint", rec.Endpoint).Warn("Failed to record metric")
	}
}

// StatusCode maps an outcome to its HTTP status
func StatusCode(err error) int {
	var vErr *ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
