// Package scoring turns planetary positions into bounded strength scores.
// Everything here is pure: no clocks, no I/O.
package scoring

import (
	"fmt"
	"math"

	"ephemeris-service/models"
)

const (
	basePower         = 60.0
	retrogradePenalty = 10.0

	// Separations from the Sun, in degrees
	combustOrb = 8.5
	beamsOrb   = 17.0
)

// Combustion describes how close a planet sits to the Sun
type Combustion string

const (
	NotCombust Combustion = "none"
	Beams      Combustion = "beams"
	Combust    Combustion = "combust"
)

// StrengthResult shows how each component contributed to FinalPower
type StrengthResult struct {
	Planet             models.Planet     `json:"planet"`
	Sign               models.ZodiacSign `json:"sign"`
	Degree             float64           `json:"degree"`
	Dignity            Dignity           `json:"dignity"`
	DignityModifier    float64           `json:"dignity_modifier"`
	DegreeQuality      string            `json:"degree_quality"`
	DegreeMultiplier   float64           `json:"degree_multiplier"`
	SunSeparation      float64           `json:"sun_separation"`
	Combustion         Combustion        `json:"combustion"`
	CombustionFactor   float64           `json:"combustion_factor"`
	Retrograde         bool              `json:"retrograde"`
	SuitableForOutward bool              `json:"suitable_for_outward"`
	FinalPower         float64           `json:"final_power"`
	Quality            string            `json:"quality"`
	Warnings           []string          `json:"warnings,omitempty"`
}

// Score rates a position on a 0-100 scale given the Sun's longitude at the same moment
func Score(pos models.PlanetPosition, sunLongitude float64) StrengthResult {
	sign := pos.ZodiacSign()
	degree := pos.ZodiacDegree()
	dignity := DignityOf(pos.Planet, sign)
	quality, multiplier := DegreeStrength(degree)

	res := StrengthResult{
		Planet:             pos.Planet,
		Sign:               sign,
		Degree:             round(degree, 2),
		Dignity:            dignity,
		DignityModifier:    dignity.Modifier(),
		DegreeQuality:      quality,
		DegreeMultiplier:   multiplier,
		Combustion:         NotCombust,
		CombustionFactor:   1,
		SuitableForOutward: true,
	}

	if pos.Planet != models.Sun {
		res.SunSeparation = round(Separation(pos.Longitude, sunLongitude), 2)
		res.Combustion, res.CombustionFactor = CombustionOf(res.SunSeparation)
		switch res.Combustion {
		case Combust:
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s is combust, %.1f° from the Sun", pos.Planet.Title(), res.SunSeparation))
		case Beams:
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s is under the Sun's beams", pos.Planet.Title()))
		}
	}

	power := (basePower + res.DignityModifier) * res.DegreeMultiplier * res.CombustionFactor
	if !pos.Planet.Luminary() && pos.IsRetrograde() {
		res.Retrograde = true
		res.SuitableForOutward = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s is retrograde: favour review over new outward action", pos.Planet.Title()))
		power -= retrogradePenalty
	}

	res.FinalPower = round(clamp(power, 0, 100), 1)
	res.Quality = Quality(res.FinalPower)
	return res
}

// DegreeStrength maps the degree within a sign to its band and multiplier
func DegreeStrength(degree float64) (string, float64) {
	switch {
	case degree < 5:
		return "Weak", 0.6
	case degree < 15:
		return "Moderate", 0.8
	case degree < 25:
		return "Strong", 1.0
	default:
		return "Waning", 0.7
	}
}

// Separation returns the angular distance between two longitudes, in [0, 180]
func Separation(a, b float64) float64 {
	d := math.Abs(models.NormalizeLongitude(a) - models.NormalizeLongitude(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// CombustionOf classifies a separation from the Sun
func CombustionOf(separation float64) (Combustion, float64) {
	switch {
	case separation < combustOrb:
		return Combust, 0.5
	case separation < beamsOrb:
		return Beams, 0.75
	default:
		return NotCombust, 1
	}
}

// Quality bands a final power for presentation
func Quality(power float64) string {
	switch {
	case power >= 80:
		return "Excellent"
	case power >= 60:
		return "Good"
	case power >= 40:
		return "Moderate"
	case power >= 20:
		return "Weak"
	default:
		return "Very Weak"
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
