package datasource

import (
	"context"
	"fmt"
	"time"

	"ephemeris-service/models"
)

// PositionSource is an interface for services that can fetch a planet's position for one hour bucket
type PositionSource interface {
	// FetchPosition fetches the position of planet at hourBucket
	FetchPosition(ctx context.Context, planet models.Planet, hourBucket time.Time) (models.PlanetPosition, error)

	// Name returns the source's name
	Name() string
}

// AcquisitionError is returned when the upstream ephemeris service could not
// produce a usable position after every attempt
type AcquisitionError struct {
	Source     string
	Planet     models.Planet
	HourBucket time.Time
	Attempts   int
	Err        error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire %s position at %s from %s after %d attempt(s): %v",
		e.Planet, e.HourBucket.Format(time.RFC3339), e.Source, e.Attempts, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}
