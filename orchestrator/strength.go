package orchestrator

import (
	"context"
	"time"

	"ephemeris-service/metrics"
	"ephemeris-service/models"
	"ephemeris-service/scoring"

	"golang.org/x/sync/errgroup"
)

// DefaultBaseScore is the daily score a day ruler adjusts when the caller supplies none
const DefaultBaseScore = 50.0

// StrengthResponse is a position together with its strength breakdown
type StrengthResponse struct {
	PositionResponse
	Strength scoring.StrengthResult `json:"strength"`
}

// DayRulerResponse describes the ruler of a day and its effect on a daily score
type DayRulerResponse struct {
	Date           string                 `json:"date"`
	Weekday        string                 `json:"weekday"`
	Ruler          models.Planet          `json:"ruler"`
	Strength       scoring.StrengthResult `json:"strength"`
	Impact         int                    `json:"impact"`
	BaseScore      float64                `json:"base_score"`
	AdjustedScore  float64                `json:"adjusted_score"`
	CacheStatus    models.CacheStatus     `json:"cache_status"`
	ResponseTimeMs int64                  `json:"response_time_ms"`
}

// Strength resolves a planet and the Sun at the same hour and scores the planet
func (o *Orchestrator) Strength(ctx context.Context, req StrengthRequest) (StrengthResponse, error) {
	start := time.Now()
	rec := metrics.NewRecord(EndpointStrength)

	planet, t, err := PositionRequest(req).validate()
	if err != nil {
		rec.Planet = req.Planet
		o.emit(ctx, rec, start, models.CacheError, err)
		return StrengthResponse{}, err
	}
	rec.Planet = string(planet)
	rec.HourBucket = models.HourBucket(t)

	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	pos, sun, status, err := o.resolveWithSun(ctx, planet, rec.HourBucket)
	o.emit(ctx, rec, start, status, err)
	if err != nil {
		return StrengthResponse{}, err
	}

	resp := StrengthResponse{
		PositionResponse: newPositionResponse(pos, status),
		Strength:         scoring.Score(pos, sun.Longitude),
	}
	resp.ResponseTimeMs = time.Since(start).Milliseconds()
	return resp, nil
}

// DayRuler scores the planet ruling the local weekday of req.Date and applies its impact
func (o *Orchestrator) DayRuler(ctx context.Context, req DayRulerRequest) (DayRulerResponse, error) {
	start := time.Now()
	rec := metrics.NewRecord(EndpointDayRuler)

	t, loc, err := parseDate(req.Date, req.Timezone)
	if err != nil {
		o.emit(ctx, rec, start, models.CacheError, err)
		return DayRulerResponse{}, err
	}
	base := DefaultBaseScore
	if req.BaseScore != nil {
		base = *req.BaseScore
		if base < 0 || base > 100 {
			err := &ValidationError{Field: "base_score", Reason: "must be between 0 and 100"}
			o.emit(ctx, rec, start, models.CacheError, err)
			return DayRulerResponse{}, err
		}
	}

	local := t.In(loc)
	ruler := scoring.DayRuler(local.Weekday())
	rec.Planet = string(ruler)
	rec.HourBucket = models.HourBucket(t)

	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	pos, sun, status, err := o.resolveWithSun(ctx, ruler, rec.HourBucket)
	o.emit(ctx, rec, start, status, err)
	if err != nil {
		return DayRulerResponse{}, err
	}

	strength := scoring.Score(pos, sun.Longitude)
	return DayRulerResponse{
		Date:           local.Format("2006-01-02"),
		Weekday:        local.Weekday().String(),
		Ruler:          ruler,
		Strength:       strength,
		Impact:         scoring.Impact(strength.FinalPower),
		BaseScore:      base,
		AdjustedScore:  scoring.ApplyImpact(base, strength.FinalPower),
		CacheStatus:    status,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// resolveWithSun fetches planet and the Sun concurrently. The status is HIT
// only when every lookup was served from the cache.
func (o *Orchestrator) resolveWithSun(ctx context.Context, planet models.Planet, hourBucket time.Time) (pos, sun models.PlanetPosition, status models.CacheStatus, err error) {
	if planet == models.Sun {
		pos, status, err = o.Resolve(ctx, planet, hourBucket)
		return pos, pos, status, err
	}

	var posStatus, sunStatus models.CacheStatus
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pos, posStatus, err = o.Resolve(gctx, planet, hourBucket)
		return err
	})
	g.Go(func() error {
		var err error
		sun, sunStatus, err = o.Resolve(gctx, models.Sun, hourBucket)
		return err
	})
	if err := g.Wait(); err != nil {
		return pos, sun, models.CacheError, err
	}

	status = models.CacheHit
	if posStatus != models.CacheHit || sunStatus != models.CacheHit {
		status = models.CacheMiss
	}
	return pos, sun, status, nil
}
