package scoring

import "ephemeris-service/models"

// Dignity is the classical strength of a planet in the sign it occupies
type Dignity string

const (
	Domicile  Dignity = "Domicile"
	Exalted   Dignity = "Exalted"
	Neutral   Dignity = "Neutral"
	Detriment Dignity = "Detriment"
	Fall      Dignity = "Fall"
)

// rulership lists the signs in which a planet holds each dignity
type rulership struct {
	domicile  []models.ZodiacSign
	exalted   []models.ZodiacSign
	detriment []models.ZodiacSign
	fall      []models.ZodiacSign
}

var rulerships = map[models.Planet]rulership{
	models.Sun: {
		domicile:  signs(models.Leo),
		exalted:   signs(models.Aries),
		detriment: signs(models.Aquarius),
		fall:      signs(models.Libra),
	},
	models.Moon: {
		domicile:  signs(models.Cancer),
		exalted:   signs(models.Taurus),
		detriment: signs(models.Capricorn),
		fall:      signs(models.Scorpio),
	},
	models.Mercury: {
		domicile:  signs(models.Gemini, models.Virgo),
		exalted:   signs(models.Virgo),
		detriment: signs(models.Sagittarius, models.Pisces),
		fall:      signs(models.Pisces),
	},
	models.Venus: {
		domicile:  signs(models.Taurus, models.Libra),
		exalted:   signs(models.Pisces),
		detriment: signs(models.Aries, models.Scorpio),
		fall:      signs(models.Virgo),
	},
	models.Mars: {
		domicile:  signs(models.Aries, models.Scorpio),
		exalted:   signs(models.Capricorn),
		detriment: signs(models.Libra, models.Taurus),
		fall:      signs(models.Cancer),
	},
	models.Jupiter: {
		domicile:  signs(models.Sagittarius, models.Pisces),
		exalted:   signs(models.Cancer),
		detriment: signs(models.Gemini, models.Virgo),
		fall:      signs(models.Capricorn),
	},
	models.Saturn: {
		domicile:  signs(models.Capricorn, models.Aquarius),
		exalted:   signs(models.Libra),
		detriment: signs(models.Cancer, models.Leo),
		fall:      signs(models.Aries),
	},
}

func signs(s ...models.ZodiacSign) []models.ZodiacSign { return s }

func contains(list []models.ZodiacSign, sign models.ZodiacSign) bool {
	for _, s := range list {
		if s == sign {
			return true
		}
	}
	return false
}

// DignityOf classifies planet in sign. Mercury rules and is exalted in Virgo,
// so checks run Domicile, Exalted, Detriment, Fall and the first match wins.
func DignityOf(planet models.Planet, sign models.ZodiacSign) Dignity {
	r, ok := rulerships[planet]
	if !ok {
		return Neutral
	}
	switch {
	case contains(r.domicile, sign):
		return Domicile
	case contains(r.exalted, sign):
		return Exalted
	case contains(r.detriment, sign):
		return Detriment
	case contains(r.fall, sign):
		return Fall
	default:
		return Neutral
	}
}

// Modifier returns the points a dignity adds to the base score
func (d Dignity) Modifier() float64 {
	switch d {
	case Domicile:
		return 30
	case Exalted:
		return 25
	case Detriment:
		return -25
	case Fall:
		return -30
	default:
		return 0
	}
}
