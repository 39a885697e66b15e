package models

import (
	"time"
)

// CacheStatus tells the caller where a position came from
type CacheStatus string

const (
	CacheHit   CacheStatus = "HIT"
	CacheMiss  CacheStatus = "MISS"
	CacheError CacheStatus = "ERROR"
)

// Metric sources
const (
	SourceCache    = "cache"
	SourceHorizons = "horizons"
	SourceNone     = "none"
)

// CacheEntry is a cached position together with its freshness window
type CacheEntry struct {
	Position  PlanetPosition `json:"position"`
	CachedAt  time.Time      `json:"cached_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Live reports whether the entry is still fresh at now
func (e CacheEntry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// MetricRecord is one append-only observability event for a request
type MetricRecord struct {
	ID          string      `json:"id" db:"id" ch:"id"`
	Endpoint    string      `json:"endpoint" db:"endpoint" ch:"endpoint"`
	Planet      string      `json:"planet,omitempty" db:"planet" ch:"planet"`
	HourBucket  time.Time   `json:"hour_bucket" db:"hour_bucket" ch:"hour_bucket"`
	CacheStatus CacheStatus `json:"cache_status" db:"cache_status" ch:"cache_status"`
	Source      string      `json:"source" db:"source" ch:"source"`
	LatencyMs   int64       `json:"latency_ms" db:"latency_ms" ch:"latency_ms"`
	StatusCode  int         `json:"status_code" db:"status_code" ch:"status_code"`
	Error       string      `json:"error,omitempty" db:"error" ch:"error"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at" ch:"created_at"`
}
