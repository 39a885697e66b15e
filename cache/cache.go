// Package cache stores planet positions keyed by (planet, hour bucket) with a
// fixed time-to-live measured from the write. Reads never extend an entry's life.
package cache

import (
	"context"
	"fmt"
	"time"

	"ephemeris-service/models"
)

// DefaultTTL is how long a written position stays fresh
const DefaultTTL = 48 * time.Hour

// Store is a point-in-time position cache.
// Get reports found=false for both absent and expired entries.
// Put is an upsert keyed on (planet, hourBucket); the latest write wins.
type Store interface {
	Get(ctx context.Context, planet models.Planet, hourBucket time.Time) (models.PlanetPosition, bool, error)
	Put(ctx context.Context, planet models.Planet, hourBucket time.Time, pos models.PlanetPosition) error
	Close() error
}

// Pruner is implemented by stores that keep expired rows until asked to drop them
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// Options holds settings shared by every backend
type Options struct {
	TTL time.Duration
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// StoreError wraps a backend failure. Callers treat it like a miss on read
// and ignore it on write.
type StoreError struct {
	Op      string
	Backend string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// entryFor builds the entry written at now
func entryFor(planet models.Planet, hourBucket time.Time, pos models.PlanetPosition, now time.Time, ttl time.Duration) models.CacheEntry {
	pos.Planet = planet
	pos.HourBucket = models.HourBucket(hourBucket)
	return models.CacheEntry{
		Position:  pos,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}
