package datasource

import (
	"context"
	"fmt"
	"time"

	"ephemeris-service/models"

	"golang.org/x/time/rate"
)

// RateLimitedSource wraps a PositionSource with rate limiting
type RateLimitedSource struct {
	source  PositionSource
	limiter *rate.Limiter
	name    string
}

// NewRateLimitedSource creates a new rate limited position source
// rps is the maximum requests per second allowed (can be fractional for less than 1 request per second)
// burst is the maximum burst size allowed
func NewRateLimitedSource(source PositionSource, rps float64, burst int) *RateLimitedSource {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedSource{
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    fmt.Sprintf("%s [Rate Limited]", source.Name()),
	}
}

// FetchPosition fetches a position, respecting rate limits
func (r *RateLimitedSource) FetchPosition(ctx context.Context, planet models.Planet, hourBucket time.Time) (models.PlanetPosition, error) {
	// Wait for rate limiter permission or context cancellation
	if err := r.limiter.Wait(ctx); err != nil {
		return models.PlanetPosition{}, fmt.Errorf("rate limit wait canceled: %w", err)
	}

	// Forward to the underlying source
	return r.source.FetchPosition(ctx, planet, hourBucket)
}

// Name returns the source name
func (r *RateLimitedSource) Name() string {
	return r.name
}

// Verify that the rate limited type implements the required interface
var _ PositionSource = (*RateLimitedSource)(nil)
