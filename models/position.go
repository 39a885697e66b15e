package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RetrogradeThreshold is the speed in degrees/day below which a body counts as retrograde
const RetrogradeThreshold = -0.01

// ZodiacSign is one of the twelve 30 degree bands of the ecliptic, Aries = 0
type ZodiacSign int

const (
	Aries ZodiacSign = iota
	Taurus
	Gemini
	Cancer
	Leo
	Virgo
	Libra
	Scorpio
	Sagittarius
	Capricorn
	Aquarius
	Pisces
)

var signNames = [12]string{
	"Aries", "Taurus", "Gemini", "Cancer", "Leo", "Virgo",
	"Libra", "Scorpio", "Sagittarius", "Capricorn", "Aquarius", "Pisces",
}

// String returns the English sign name
func (z ZodiacSign) String() string {
	if z < Aries || z > Pisces {
		return "Unknown"
	}
	return signNames[z]
}

// MarshalText encodes the sign by name
func (z ZodiacSign) MarshalText() ([]byte, error) {
	return []byte(z.String()), nil
}

// UnmarshalText decodes a sign from its name, ignoring case
func (z *ZodiacSign) UnmarshalText(text []byte) error {
	name := strings.TrimSpace(string(text))
	for i, n := range signNames {
		if strings.EqualFold(n, name) {
			*z = ZodiacSign(i)
			return nil
		}
	}
	return fmt.Errorf("unknown zodiac sign %q", name)
}

// NormalizeLongitude folds any angle into [0, 360)
func NormalizeLongitude(lon float64) float64 {
	n := math.Mod(lon, 360)
	if n < 0 {
		n += 360
	}
	// math.Mod of a tiny negative value can round up to exactly 360
	if n >= 360 {
		n = 0
	}
	return n
}

// SignOf returns the zodiac sign containing the given ecliptic longitude
func SignOf(lon float64) ZodiacSign {
	s := int(math.Floor(NormalizeLongitude(lon) / 30))
	if s > int(Pisces) {
		s = int(Pisces)
	}
	return ZodiacSign(s)
}

// DegreeInSign returns the offset of the longitude within its sign, in [0, 30)
func DegreeInSign(lon float64) float64 {
	d := math.Mod(NormalizeLongitude(lon), 30)
	if d >= 30 {
		d = 0
	}
	return d
}

// PlanetPosition represents one body's state at an hour bucket.
// Sign and degree are derived from Longitude on every read and never stored.
type PlanetPosition struct {
	Planet     Planet    `json:"planet"`
	HourBucket time.Time `json:"date"`
	Longitude  float64   `json:"longitude"` // ecliptic, degrees [0, 360)
	Latitude   float64   `json:"latitude"`  // ecliptic, degrees
	Speed      float64   `json:"speed"`     // degrees/day, negative when retrograde
	Distance   float64   `json:"distance"`  // astronomical units
}

// ZodiacSign returns the sign derived from the longitude
func (p PlanetPosition) ZodiacSign() ZodiacSign {
	return SignOf(p.Longitude)
}

// ZodiacDegree returns the degree within the sign derived from the longitude
func (p PlanetPosition) ZodiacDegree() float64 {
	return DegreeInSign(p.Longitude)
}

// IsRetrograde reports apparent backward motion
func (p PlanetPosition) IsRetrograde() bool {
	return p.Speed < RetrogradeThreshold
}

// HourBucket truncates t to the hour in UTC, the cache key granularity
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
