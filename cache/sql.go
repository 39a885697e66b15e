package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ephemeris-service/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported SQL drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

const positionSchema = `
	CREATE TABLE IF NOT EXISTS planet_position_cache (
		planet_id   TEXT             NOT NULL,
		hour_bucket BIGINT           NOT NULL,
		longitude   DOUBLE PRECISION NOT NULL,
		latitude    DOUBLE PRECISION NOT NULL,
		speed       DOUBLE PRECISION NOT NULL,
		distance    DOUBLE PRECISION NOT NULL,
		cached_at   BIGINT           NOT NULL,
		expires_at  BIGINT           NOT NULL,
		PRIMARY KEY (planet_id, hour_bucket)
	);
	CREATE INDEX IF NOT EXISTS idx_planet_position_cache_expires ON planet_position_cache(expires_at);
`

const upsertPosition = `
	INSERT INTO planet_position_cache
		(planet_id, hour_bucket, longitude, latitude, speed, distance, cached_at, expires_at)
	VALUES
		(:planet_id, :hour_bucket, :longitude, :latitude, :speed, :distance, :cached_at, :expires_at)
	ON CONFLICT (planet_id, hour_bucket) DO UPDATE SET
		longitude  = excluded.longitude,
		latitude   = excluded.latitude,
		speed      = excluded.speed,
		distance   = excluded.distance,
		cached_at  = excluded.cached_at,
		expires_at = excluded.expires_at
`

// positionRow is the table layout; times are unix milliseconds so that the
// expiry comparison behaves the same on every driver
type positionRow struct {
	PlanetID   string  `db:"planet_id"`
	HourBucket int64   `db:"hour_bucket"`
	Longitude  float64 `db:"longitude"`
	Latitude   float64 `db:"latitude"`
	Speed      float64 `db:"speed"`
	Distance   float64 `db:"distance"`
	CachedAt   int64   `db:"cached_at"`
	ExpiresAt  int64   `db:"expires_at"`
}

// SQLStore persists positions in SQLite or PostgreSQL
type SQLStore struct {
	db     *sqlx.DB
	opts   Options
	driver string
}

// OpenSQLStore connects to the database, applies the schema and returns a store
func OpenSQLStore(driver, dsn string, opts Options) (*SQLStore, error) {
	db, err := OpenDB(driver, dsn)
	if err != nil {
		return nil, err
	}

	store := NewSQLStore(db, opts)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// OpenDB opens and pings a database handle for one of the supported drivers
func OpenDB(driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverSQLite:
		if path := sqlitePath(dsn); path != "" && path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("creating cache dir: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// one writer at a time avoids SQLITE_BUSY between concurrent upserts
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetConnMaxIdleTime(10 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	return db, nil
}

func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// NewSQLStore wraps an existing handle; call Migrate before first use
func NewSQLStore(db *sqlx.DB, opts Options) *SQLStore {
	return &SQLStore{db: db, opts: opts.withDefaults(), driver: db.DriverName()}
}

// Migrate creates the cache table when missing
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, positionSchema); err != nil {
		return &StoreError{Op: "migrate", Backend: s.driver, Err: err}
	}
	return nil
}

// Get returns the live position for the key
func (s *SQLStore) Get(ctx context.Context, planet models.Planet, hourBucket time.Time) (models.PlanetPosition, bool, error) {
	query := s.db.Rebind(`
		SELECT planet_id, hour_bucket, longitude, latitude, speed, distance, cached_at, expires_at
		FROM planet_position_cache
		WHERE planet_id = ? AND hour_bucket = ? AND expires_at > ?
	`)

	var row positionRow
	err := s.db.GetContext(ctx, &row, query,
		string(planet), models.HourBucket(hourBucket).UnixMilli(), s.opts.Now().UnixMilli())
	if errors.Is(err, sql.ErrNoRows) {
		return models.PlanetPosition{}, false, nil
	}
	if err != nil {
		return models.PlanetPosition{}, false, &StoreError{Op: "get", Backend: s.driver, Err: err}
	}

	return models.PlanetPosition{
		Planet:     models.Planet(row.PlanetID),
		HourBucket: time.UnixMilli(row.HourBucket).UTC(),
		Longitude:  row.Longitude,
		Latitude:   row.Latitude,
		Speed:      row.Speed,
		Distance:   row.Distance,
	}, true, nil
}

// Put upserts the position for the key
func (s *SQLStore) Put(ctx context.Context, planet models.Planet, hourBucket time.Time, pos models.PlanetPosition) error {
	entry := entryFor(planet, hourBucket, pos, s.opts.Now(), s.opts.TTL)
	row := positionRow{
		PlanetID:   string(planet),
		HourBucket: entry.Position.HourBucket.UnixMilli(),
		Longitude:  entry.Position.Longitude,
		Latitude:   entry.Position.Latitude,
		Speed:      entry.Position.Speed,
		Distance:   entry.Position.Distance,
		CachedAt:   entry.CachedAt.UnixMilli(),
		ExpiresAt:  entry.ExpiresAt.UnixMilli(),
	}

	if _, err := s.db.NamedExecContext(ctx, upsertPosition, row); err != nil {
		return &StoreError{Op: "put", Backend: s.driver, Err: err}
	}
	return nil
}

// Prune deletes expired rows and returns how many were removed
func (s *SQLStore) Prune(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM planet_position_cache WHERE expires_at <= ?`),
		s.opts.Now().UnixMilli())
	if err != nil {
		return 0, &StoreError{Op: "prune", Backend: s.driver, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StoreError{Op: "prune", Backend: s.driver, Err: err}
	}
	return int(n), nil
}

// Count returns the number of rows for a key, live or not
func (s *SQLStore) Count(ctx context.Context, planet models.Planet, hourBucket time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		s.db.Rebind(`SELECT COUNT(*) FROM planet_position_cache WHERE planet_id = ? AND hour_bucket = ?`),
		string(planet), models.HourBucket(hourBucket).UnixMilli())
	if err != nil {
		return 0, &StoreError{Op: "count", Backend: s.driver, Err: err}
	}
	return n, nil
}

// DB exposes the handle so other components can share the connection pool
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

// Close releases the database handle
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var (
	_ Store  = (*SQLStore)(nil)
	_ Pruner = (*SQLStore)(nil)
)
