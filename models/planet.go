package models

import (
	"fmt"
	"strings"
)

// Planet identifies one of the seven classical bodies tracked by the service
type Planet string

const (
	Sun     Planet = "sun"
	Moon    Planet = "moon"
	Mercury Planet = "mercury"
	Venus   Planet = "venus"
	Mars    Planet = "mars"
	Jupiter Planet = "jupiter"
	Saturn  Planet = "saturn"
)

// Planets lists every supported body in traditional weekday order
var Planets = []Planet{Sun, Moon, Mars, Mercury, Jupiter, Venus, Saturn}

// naifIDs maps each planet to the body code the Horizons service expects
var naifIDs = map[Planet]string{
	Sun:     "10",
	Moon:    "301",
	Mercury: "199",
	Venus:   "299",
	Mars:    "499",
	Jupiter: "599",
	Saturn:  "699",
}

// ParsePlanet converts a user supplied name into a Planet, ignoring case and surrounding spaces
func ParsePlanet(name string) (Planet, error) {
	p := Planet(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := naifIDs[p]; !ok {
		return "", fmt.Errorf("unknown planet %q", name)
	}
	return p, nil
}

// Valid reports whether p is one of the supported planets
func (p Planet) Valid() bool {
	_, ok := naifIDs[p]
	return ok
}

// NAIFID returns the Horizons body code for the planet
func (p Planet) NAIFID() string {
	return naifIDs[p]
}

// Title returns the capitalised planet name
func (p Planet) Title() string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}

// Luminary reports whether the planet is the Sun or the Moon, which never station retrograde
func (p Planet) Luminary() bool {
	return p == Sun || p == Moon
}
