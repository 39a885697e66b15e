package horizons

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"ephemeris-service/models"
)

// Default sentinel lines bracketing the data block of a Horizons ephemeris
const (
	DefaultStartMarker = "$$SOE"
	DefaultEndMarker   = "$$EOE"
)

// Column positions of a CSV observer row with QUANTITIES='31,20'
const (
	colTimestamp = 0
	colLongitude = 3
	colLatitude  = 4
	colDistance  = 5
	colDistRate  = 6
)

// rowTimeLayouts are the calendar formats Horizons uses for the first column
var rowTimeLayouts = []string{
	"2006-Jan-02 15:04",
	"2006-Jan-02 15:04:05",
	"2006-Jan-02 15:04:05.000",
}

var (
	ErrNoStartMarker = errors.New("ephemeris start marker not found")
	ErrNoEndMarker   = errors.New("ephemeris end marker not found")
	ErrNoRows        = errors.New("ephemeris contains no data rows")
)

// Markers delimits the data block
type Markers struct {
	Start string
	End   string
}

// DefaultMarkers returns the sentinels used by the public Horizons API
func DefaultMarkers() Markers {
	return Markers{Start: DefaultStartMarker, End: DefaultEndMarker}
}

// Row is one parsed data line
type Row struct {
	Time      time.Time // zero when the timestamp column is not recognised
	Raw       string
	Longitude float64
	Latitude  float64
	Distance  float64
	DistRate  float64
}

// ParsePosition turns a Horizons response body into a position for planet.
// step is the row spacing requested from the service and is used to scale the
// angular speed when the row timestamps cannot be read.
func ParsePosition(planet models.Planet, hourBucket time.Time, body []byte, step time.Duration, markers Markers) (models.PlanetPosition, error) {
	rows, err := ParseRows(body, markers)
	if err != nil {
		return models.PlanetPosition{}, err
	}

	first := rows[0]
	pos := models.PlanetPosition{
		Planet:     planet,
		HourBucket: hourBucket,
		Longitude:  models.NormalizeLongitude(first.Longitude),
		Latitude:   first.Latitude,
		Distance:   first.Distance,
	}

	if len(rows) >= 2 {
		pos.Speed = Speed(first, rows[1], step)
	}
	return pos, nil
}

// ParseRows extracts the data rows between the markers, unwrapping a
// {"result": "..."} JSON envelope first when present
func ParseRows(body []byte, markers Markers) ([]Row, error) {
	if markers.Start == "" || markers.End == "" {
		markers = DefaultMarkers()
	}
	text, err := unwrapEnvelope(body)
	if err != nil {
		return nil, err
	}

	var (
		rows    []Row
		inBlock bool
		closed  bool
		lineNo  int
	)

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if !inBlock {
			if line == markers.Start {
				inBlock = true
			}
			continue
		}
		if line == markers.End {
			closed = true
			break
		}
		if line == "" {
			continue
		}

		row, err := parseRow(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ephemeris text: %w", err)
	}

	switch {
	case !inBlock:
		return nil, ErrNoStartMarker
	case !closed:
		return nil, ErrNoEndMarker
	case len(rows) == 0:
		return nil, ErrNoRows
	}
	return rows, nil
}

// Speed returns the angular speed in degrees/day between two consecutive rows,
// taking the shortest path around the circle
func Speed(a, b Row, step time.Duration) float64 {
	elapsed := step
	if !a.Time.IsZero() && !b.Time.IsZero() && b.Time.After(a.Time) {
		elapsed = b.Time.Sub(a.Time)
	}
	if elapsed <= 0 {
		return 0
	}
	delta := AngularDelta(a.Longitude, b.Longitude)
	return delta * float64(24*time.Hour) / float64(elapsed)
}

// AngularDelta returns to-from folded into (-180, 180]
func AngularDelta(from, to float64) float64 {
	d := models.NormalizeLongitude(to - from)
	if d > 180 {
		d -= 360
	}
	return d
}

func parseRow(line string) (Row, error) {
	cols := strings.Split(line, ",")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	if len(cols) <= colLatitude {
		return Row{}, fmt.Errorf("expected at least %d columns, got %d", colLatitude+1, len(cols))
	}

	lon, err := parseFloat(cols[colLongitude])
	if err != nil {
		return Row{}, fmt.Errorf("invalid longitude %q: %w", cols[colLongitude], err)
	}
	lat, err := parseFloat(cols[colLatitude])
	if err != nil {
		return Row{}, fmt.Errorf("invalid latitude %q: %w", cols[colLatitude], err)
	}

	row := Row{
		Raw:       line,
		Time:      parseRowTime(cols[colTimestamp]),
		Longitude: lon,
		Latitude:  lat,
	}
	// Distance columns are informational; a missing value is left at zero
	if len(cols) > colDistance {
		if v, err := parseFloat(cols[colDistance]); err == nil {
			row.Distance = v
		}
	}
	if len(cols) > colDistRate {
		if v, err := parseFloat(cols[colDistRate]); err == nil {
			row.DistRate = v
		}
	}
	return row, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" || strings.EqualFold(s, "n.a.") {
		return 0, errors.New("missing value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("non-finite value")
	}
	return v, nil
}

func parseRowTime(s string) time.Time {
	// Some tables prefix the calendar date with an era marker
	s = strings.TrimSpace(strings.TrimPrefix(s, "A.D."))
	for _, layout := range rowTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// unwrapEnvelope returns the text payload, surfacing an "error" member of the
// JSON envelope when the service reports one instead of a result
func unwrapEnvelope(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return string(body), nil
	}

	var envelope struct {
		Result *string `json:"result"`
		Error  *string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return string(body), nil
	}
	if envelope.Result != nil {
		return *envelope.Result, nil
	}
	if envelope.Error != nil {
		return "", fmt.Errorf("horizons error: %s", strings.TrimSpace(*envelope.Error))
	}
	return string(body), nil
}
