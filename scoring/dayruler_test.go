package scoring

import (
	"testing"
	"time"

	"ephemeris-service/models"

	"github.com/stretchr/testify/assert"
)

func TestImpactBoundaries(t *testing.T) {
	cases := []struct {
		strength float64
		want     int
	}{
		{0, -15},
		{19, -15},
		{20, -5},
		{39, -5},
		{40, 5},
		{59, 5},
		{60, 10},
		{79, 10},
		{80, 15},
		{100, 15},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Impact(tc.strength), "strength %v", tc.strength)
	}
}

func TestImpactIsMonotonic(t *testing.T) {
	prev := Impact(0)
	for s := 0.0; s <= 100; s += 0.5 {
		got := Impact(s)
		assert.GreaterOrEqual(t, got, prev, "strength %v", s)
		prev = got
	}
}

func TestApplyImpactClamps(t *testing.T) {
	assert.Equal(t, 65.0, ApplyImpact(50, 85))
	assert.Equal(t, 35.0, ApplyImpact(50, 10))
	assert.Equal(t, 100.0, ApplyImpact(95, 90))
	assert.Equal(t, 0.0, ApplyImpact(10, 5))
}

func TestDayRuler(t *testing.T) {
	want := map[time.Weekday]models.Planet{
		time.Sunday:    models.Sun,
		time.Monday:    models.Moon,
		time.Tuesday:   models.Mars,
		time.Wednesday: models.Mercury,
		time.Thursday:  models.Jupiter,
		time.Friday:    models.Venus,
		time.Saturday:  models.Saturn,
	}
	for day, planet := range want {
		assert.Equal(t, planet, DayRuler(day), day.String())
	}

	// 2025-03-10 was a Monday
	assert.Equal(t, models.Moon, DayRuler(time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC).Weekday()))
}

func TestPlanetaryHourRuler(t *testing.T) {
	sunday := []models.Planet{
		models.Sun, models.Venus, models.Mercury, models.Moon,
		models.Saturn, models.Jupiter, models.Mars, models.Sun,
	}
	for n, want := range sunday {
		assert.Equal(t, want, PlanetaryHourRuler(time.Sunday, n), "hour %d", n)
	}

	// The 25th hour after sunrise opens the following day
	for day := time.Sunday; day <= time.Saturday; day++ {
		next := time.Weekday((int(day) + 1) % 7)
		assert.Equal(t, DayRuler(day), PlanetaryHourRuler(day, 0))
		assert.Equal(t, DayRuler(next), PlanetaryHourRuler(day, 24), day.String())
	}

	assert.Equal(t, models.Moon, PlanetaryHourRuler(time.Sunday, -4))
}
