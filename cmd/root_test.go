package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"ephemeris-service/api"
	"ephemeris-service/cache"
	"ephemeris-service/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const horizonsPayload = `
*******************************************************************************
 Date__(UT)__HR:MN, , , ObsEcLon, ObsEcLat, delta, deldot,
*******************************************************************************
$$SOE
 2025-Mar-10 14:00, , , 102.1234567,   3.4567890,  0.81234567890123,  11.1234567,
 2025-Mar-10 15:00, , , 102.1334567,   3.4566890,  0.81240000000000,  11.1200000,
$$EOE
*******************************************************************************
`

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeHorizons struct {
	*httptest.Server
	calls atomic.Int64
}

func newFakeHorizons(t *testing.T) *fakeHorizons {
	t.Helper()
	f := &fakeHorizons{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"result": horizonsPayload})
	}))
	t.Cleanup(f.Close)
	return f
}

func writeTestConfig(t *testing.T, horizonsURL, driver string, sinks string) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "positions.db")
	cfgPath = filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
log:
  level: error
horizons:
  base_url: %s
retry:
  base_delay: 1ms
cache:
  driver: %s
  dsn: %s
metrics:
  sinks: %s
warmup:
  enabled: false
`, horizonsURL, driver, dbPath, sinks)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return cfgPath, dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2025-03-10")
	t.Cleanup(func() { SetVersionInfo("dev", "none", "unknown") })

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ephemerisd 1.2.3 (commit: abc123, built: 2025-03-10)\n", out)
}

func TestPositionCommandCachesInSQLite(t *testing.T) {
	horizons := newFakeHorizons(t)
	cfgPath, dbPath := writeTestConfig(t, horizons.URL, config.DriverSQLite, "[log, sql]")

	for i, want := range []string{"MISS", "HIT"} {
		out, err := run(t, "position", "--config", cfgPath, "-p", "mars", "-d", "2025-03-10T14:00:00Z")
		require.NoError(t, err, "run %d", i)

		var resp map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, want, resp["cache_status"])
		assert.InDelta(t, 102.1234567, resp["longitude"], 1e-9)
		assert.Equal(t, "Cancer", resp["zodiac_sign"])
	}
	assert.EqualValues(t, 1, horizons.calls.Load())

	db, err := cache.OpenDB(cache.DriverSQLite, dbPath)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM api_metrics`))
	assert.Equal(t, 2, n)
}

func TestStrengthAndDayRulerCommands(t *testing.T) {
	horizons := newFakeHorizons(t)
	cfgPath, _ := writeTestConfig(t, horizons.URL, config.DriverMemory, "[]")

	out, err := run(t, "strength", "--config", cfgPath, "-p", "mars", "-d", "2025-03-10T14:00:00Z")
	require.NoError(t, err)
	var strength map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &strength))
	assert.Equal(t, "Fall", strength["strength"].(map[string]any)["dignity"])

	out, err = run(t, "day-ruler", "--config", cfgPath, "-d", "2025-03-10", "--base-score", "40")
	require.NoError(t, err)
	var ruler map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &ruler))
	assert.Equal(t, "moon", ruler["ruler"])
	assert.EqualValues(t, 40, ruler["base_score"])
}

func TestPositionCommandValidation(t *testing.T) {
	horizons := newFakeHorizons(t)
	cfgPath, _ := writeTestConfig(t, horizons.URL, config.DriverMemory, "[log]")

	_, err := run(t, "position", "--config", cfgPath, "-p", "pluto", "-d", "2025-03-10T14:00:00Z")
	assert.ErrorContains(t, err, "unknown planet")
	assert.Zero(t, horizons.calls.Load())
}

func TestPositionCommandAgainstServer(t *testing.T) {
	horizons := newFakeHorizons(t)
	cfgPath, _ := writeTestConfig(t, horizons.URL, config.DriverMemory, "[]")

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	logger, err := newLogger(cfg.Log, &bytes.Buffer{})
	require.NoError(t, err)
	st, err := buildStack(t.Context(), cfg, logger)
	require.NoError(t, err)
	defer st.Close()

	srv := httptest.NewServer(api.NewServer(st.orch, ":0", logger).Handler())
	defer srv.Close()

	out, err := run(t, "position", "--server", srv.URL, "-p", "mars", "-d", "2025-03-10T14:30:00Z")
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "MISS", resp["cache_status"])
	assert.Equal(t, "2025-03-10T14:00:00Z", resp["date"])
}

func TestPruneCommand(t *testing.T) {
	horizons := newFakeHorizons(t)

	cfgPath, _ := writeTestConfig(t, horizons.URL, config.DriverSQLite, "[log]")
	out, err := run(t, "prune", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "Nothing to prune.\n", out)
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("hidden")
	logger.Warn("shown")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])

	_, err = newLogger(config.LogConfig{Level: "chatty"}, &buf)
	assert.Error(t, err)
}
