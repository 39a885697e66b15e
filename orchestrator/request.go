package orchestrator

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // client supplied zone names must resolve on images without zoneinfo

	"ephemeris-service/models"
)

// ValidationError reports a malformed or incomplete request. It is never retried
// and never touches the cache or the upstream source.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PositionRequest asks for one planet at one moment
type PositionRequest struct {
	Date     string `json:"date" form:"date"`
	Planet   string `json:"planet" form:"planet"`
	Timezone string `json:"timezone,omitempty" form:"timezone"`
}

// StrengthRequest asks for a planet's strength score at one moment
type StrengthRequest PositionRequest

// DayRulerRequest asks for the ruler of the day containing Date
type DayRulerRequest struct {
	Date      string   `json:"date" form:"date"`
	Timezone  string   `json:"timezone,omitempty" form:"timezone"`
	BaseScore *float64 `json:"base_score,omitempty" form:"base_score"`
}

// zone-less layouts are read in the request's timezone
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func (r PositionRequest) validate() (models.Planet, time.Time, error) {
	if strings.TrimSpace(r.Planet) == "" {
		return "", time.Time{}, &ValidationError{Field: "planet", Reason: "required"}
	}
	planet, err := models.ParsePlanet(r.Planet)
	if err != nil {
		return "", time.Time{}, &ValidationError{Field: "planet", Reason: err.Error()}
	}

	t, _, err := parseDate(r.Date, r.Timezone)
	if err != nil {
		return "", time.Time{}, err
	}
	return planet, t, nil
}

// parseDate reads date as RFC 3339, or as a zone-less timestamp in timezone
// (UTC when empty). The returned location is the resolved timezone.
func parseDate(date, timezone string) (time.Time, *time.Location, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, nil, &ValidationError{Field: "timezone", Reason: fmt.Sprintf("unknown timezone %q", timezone)}
		}
		loc = l
	}

	date = strings.TrimSpace(date)
	if date == "" {
		return time.Time{}, nil, &ValidationError{Field: "date", Reason: "required"}
	}

	if t, err := time.Parse(time.RFC3339Nano, date); err == nil {
		return t, loc, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, date, loc); err == nil {
			return t, loc, nil
		}
	}
	return time.Time{}, nil, &ValidationError{Field: "date", Reason: fmt.Sprintf("cannot parse %q as an ISO-8601 timestamp", date)}
}
