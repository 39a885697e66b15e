package scoring

import (
	"math"
	"time"

	"ephemeris-service/models"
)

// dayRulers indexes by time.Weekday
var dayRulers = [7]models.Planet{
	models.Sun,     // Sunday
	models.Moon,    // Monday
	models.Mars,    // Tuesday
	models.Mercury, // Wednesday
	models.Jupiter, // Thursday
	models.Venus,   // Friday
	models.Saturn,  // Saturday
}

// chaldean is the descending order of apparent speed used for planetary hours
var chaldean = [7]models.Planet{
	models.Saturn, models.Jupiter, models.Mars, models.Sun,
	models.Venus, models.Mercury, models.Moon,
}

// DayRuler returns the planet governing a weekday
func DayRuler(day time.Weekday) models.Planet {
	return dayRulers[int(day)%7]
}

// PlanetaryHourRuler returns the ruler of the nth planetary hour (0 = first
// hour after sunrise) of day. Hour 24 lands on the next day's ruler.
func PlanetaryHourRuler(day time.Weekday, n int) models.Planet {
	start := 0
	ruler := DayRuler(day)
	for i, p := range chaldean {
		if p == ruler {
			start = i
			break
		}
	}
	idx := (start + n) % 7
	if idx < 0 {
		idx += 7
	}
	return chaldean[idx]
}

// Impact maps the day ruler's strength to a signed adjustment of the daily score
func Impact(strength float64) int {
	switch {
	case strength >= 80:
		return 15
	case strength >= 60:
		return 10
	case strength >= 40:
		return 5
	case strength >= 20:
		return -5
	default:
		return -15
	}
}

// ApplyImpact adjusts base by the ruler's impact, keeping the result within 0-100
func ApplyImpact(base, strength float64) float64 {
	return math.Max(0, math.Min(100, base+float64(Impact(strength))))
}
