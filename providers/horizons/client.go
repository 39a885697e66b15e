package horizons

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"ephemeris-service/datasource"
	"ephemeris-service/models"
)

// DefaultBaseURL is the public JPL Horizons API endpoint
const DefaultBaseURL = "https://ssd.jpl.nasa.gov/api/horizons.api"

// maxBodyBytes caps how much of a response is read
const maxBodyBytes = 4 << 20

// Config configures a Horizons client
type Config struct {
	BaseURL string
	Step    time.Duration // row spacing requested from the service
	Markers Markers
	Timeout time.Duration // HTTP client timeout; attempt deadlines come from the caller's context
}

// DefaultConfig returns settings for the public service
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Step:    time.Hour,
		Markers: DefaultMarkers(),
		Timeout: 30 * time.Second,
	}
}

// Client fetches geocentric ecliptic positions from JPL Horizons.
// Each call is a single attempt; wrap it in datasource.RetryingSource for retries.
type Client struct {
	config     Config
	httpClient *http.Client
}

// Ensure Client implements datasource.PositionSource
var _ datasource.PositionSource = (*Client)(nil)

// NewClient creates a new Horizons client
func NewClient(config Config, httpClient *http.Client) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Step <= 0 {
		config.Step = time.Hour
	}
	if config.Markers.Start == "" || config.Markers.End == "" {
		config.Markers = DefaultMarkers()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &Client{config: config, httpClient: httpClient}
}

// Name returns the name of this source
func (c *Client) Name() string {
	return "Horizons"
}

// FetchPosition requests the window [hourBucket, hourBucket+1h] at one step
// resolution and parses the first rows into a position
func (c *Client) FetchPosition(ctx context.Context, planet models.Planet, hourBucket time.Time) (models.PlanetPosition, error) {
	if !planet.Valid() {
		return models.PlanetPosition{}, fmt.Errorf("unsupported planet %q", planet)
	}

	endpoint := c.RequestURL(planet, hourBucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.PlanetPosition{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.PlanetPosition{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.PlanetPosition{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.PlanetPosition{}, fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	pos, err := ParsePosition(planet, hourBucket, body, c.config.Step, c.config.Markers)
	if err != nil {
		return models.PlanetPosition{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return pos, nil
}

// RequestURL builds the observer-table query for one planet and hour window
func (c *Client) RequestURL(planet models.Planet, hourBucket time.Time) string {
	start := hourBucket.UTC()
	stop := start.Add(c.config.Step)

	params := url.Values{}
	params.Set("format", "json")
	params.Set("COMMAND", quote(planet.NAIFID()))
	params.Set("OBJ_DATA", quote("NO"))
	params.Set("MAKE_EPHEM", quote("YES"))
	params.Set("EPHEM_TYPE", quote("OBSERVER"))
	params.Set("CENTER", quote("500@399"))
	params.Set("START_TIME", quote(start.Format("2006-01-02 15:04")))
	params.Set("STOP_TIME", quote(stop.Format("2006-01-02 15:04")))
	params.Set("STEP_SIZE", quote(stepSize(c.config.Step)))
	params.Set("QUANTITIES", quote("31,20"))
	params.Set("CSV_FORMAT", quote("YES"))

	return c.config.BaseURL + "?" + params.Encode()
}

func stepSize(step time.Duration) string {
	if step%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(step/time.Hour))
	}
	return fmt.Sprintf("%dm", int(step/time.Minute))
}

func quote(s string) string {
	return "'" + s + "'"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
