package config

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ephemeris-service/cache"
	"ephemeris-service/collector"
	"ephemeris-service/datasource"
	"ephemeris-service/orchestrator"
	"ephemeris-service/providers/horizons"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

const appName = "ephemerisd"

// Cache drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = cache.DriverSQLite
	DriverPostgres = cache.DriverPostgres
	DriverRedis    = "redis"
)

// Metric sinks
const (
	SinkLog        = "log"
	SinkSQL        = "sql"
	SinkKafka      = "kafka"
	SinkClickHouse = "clickhouse"
)

type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HorizonsConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Step        string  `yaml:"step"`
	Timeout     string  `yaml:"timeout"`
	RateLimit   float64 `yaml:"rate_limit"`
	Burst       int     `yaml:"burst"`
	StartMarker string  `yaml:"start_marker"`
	EndMarker   string  `yaml:"end_marker"`
}

type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	BaseDelay      string  `yaml:"base_delay"`
	Multiplier     float64 `yaml:"multiplier"`
	MaxDelay       string  `yaml:"max_delay"`
	AttemptTimeout string  `yaml:"attempt_timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type CacheConfig struct {
	Driver string      `yaml:"driver"`
	DSN    string      `yaml:"dsn"`
	TTL    string      `yaml:"ttl"`
	Redis  RedisConfig `yaml:"redis"`
}

type RequestConfig struct {
	StoreTimeout string `yaml:"store_timeout"`
	Deadline     string `yaml:"deadline"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type ClickHouseConfig struct {
	DSN string `yaml:"dsn"`
}

type MetricsConfig struct {
	Sinks      []string         `yaml:"sinks"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type WarmupConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Interval    string `yaml:"interval"`
	Hours       int    `yaml:"hours"`
	Concurrency int    `yaml:"concurrency"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Horizons HorizonsConfig `yaml:"horizons"`
	Retry    RetryConfig    `yaml:"retry"`
	Cache    CacheConfig    `yaml:"cache"`
	Request  RequestConfig  `yaml:"request"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Warmup   WarmupConfig   `yaml:"warmup"`
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// CachePath is the SQLite file used when no DSN is configured
func CachePath() string {
	return filepath.Join(xdg.CacheHome, appName, "positions.db")
}

func loadDefaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	return &cfg, nil
}

// Load layers the embedded defaults, the YAML file at path (the user config
// directory when empty, optional there), a .env file in the working directory
// and EPHEMERIS_* variables, then validates the result.
func Load(path string) (*Config, error) {
	cfg, err := loadDefaults()
	if err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// no user config; embedded defaults apply
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg from EPHEMERIS_* variables
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = splitList(v)
		}
	}

	str("EPHEMERIS_ADDR", &cfg.Server.Addr)
	str("EPHEMERIS_LOG_LEVEL", &cfg.Log.Level)
	str("EPHEMERIS_LOG_FORMAT", &cfg.Log.Format)
	str("EPHEMERIS_HORIZONS_URL", &cfg.Horizons.BaseURL)
	str("EPHEMERIS_CACHE_DRIVER", &cfg.Cache.Driver)
	str("EPHEMERIS_CACHE_DSN", &cfg.Cache.DSN)
	str("EPHEMERIS_CACHE_TTL", &cfg.Cache.TTL)
	str("EPHEMERIS_REDIS_ADDR", &cfg.Cache.Redis.Addr)
	str("EPHEMERIS_REDIS_PASSWORD", &cfg.Cache.Redis.Password)
	str("EPHEMERIS_REQUEST_DEADLINE", &cfg.Request.Deadline)
	list("EPHEMERIS_METRICS_SINKS", &cfg.Metrics.Sinks)
	list("EPHEMERIS_KAFKA_BROKERS", &cfg.Metrics.Kafka.Brokers)
	str("EPHEMERIS_KAFKA_TOPIC", &cfg.Metrics.Kafka.Topic)
	str("EPHEMERIS_CLICKHOUSE_DSN", &cfg.Metrics.ClickHouse.DSN)

	if v, ok := lookup("EPHEMERIS_WARMUP_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("EPHEMERIS_WARMUP_ENABLED: %w", err)
		}
		cfg.Warmup.Enabled = b
	}
	if v, ok := lookup("EPHEMERIS_HORIZONS_RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("EPHEMERIS_HORIZONS_RATE_LIMIT: %w", err)
		}
		cfg.Horizons.RateLimit = f
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	u, err := url.Parse(c.Horizons.BaseURL)
	if err != nil {
		return fmt.Errorf("horizons.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("horizons.base_url: scheme must be http or https, got %q", u.Scheme)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}

	durations := map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"horizons.step":           c.Horizons.Step,
		"horizons.timeout":        c.Horizons.Timeout,
		"retry.base_delay":        c.Retry.BaseDelay,
		"retry.max_delay":         c.Retry.MaxDelay,
		"retry.attempt_timeout":   c.Retry.AttemptTimeout,
		"cache.ttl":               c.Cache.TTL,
		"request.store_timeout":   c.Request.StoreTimeout,
		"request.deadline":        c.Request.Deadline,
		"warmup.interval":         c.Warmup.Interval,
	}
	for key, v := range durations {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	switch c.Cache.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Cache.DSN == "" {
			return errors.New("cache.dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Cache.Redis.Addr == "" {
			return errors.New("cache.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("cache.driver: unknown driver %q (valid: memory, sqlite, postgres, redis)", c.Cache.Driver)
	}

	for _, sink := range c.Metrics.Sinks {
		switch sink {
		case SinkLog:
		case SinkSQL:
			if !c.SQLCache() {
				return fmt.Errorf("metrics sink %q needs a sqlite or postgres cache", sink)
			}
		case SinkKafka:
			if len(c.Metrics.Kafka.Brokers) == 0 || c.Metrics.Kafka.Topic == "" {
				return errors.New("metrics.kafka needs brokers and a topic")
			}
		case SinkClickHouse:
			if c.Metrics.ClickHouse.DSN == "" {
				return errors.New("metrics.clickhouse.dsn is required")
			}
		default:
			return fmt.Errorf("metrics.sinks: unknown sink %q (valid: log, sql, kafka, clickhouse)", sink)
		}
	}
	return nil
}

// SQLCache reports whether the cache lives in a SQL database
func (c *Config) SQLCache() bool {
	return c.Cache.Driver == DriverSQLite || c.Cache.Driver == DriverPostgres
}

// CacheDSN returns the configured DSN, defaulting SQLite to the user cache directory
func (c *Config) CacheDSN() string {
	if c.Cache.DSN == "" && c.Cache.Driver == DriverSQLite {
		return CachePath()
	}
	return c.Cache.DSN
}

func (c *Config) CacheOptions() cache.Options {
	return cache.Options{TTL: duration(c.Cache.TTL, cache.DefaultTTL)}
}

func (c *Config) RedisOptions() cache.RedisOptions {
	return cache.RedisOptions{
		Addr:     c.Cache.Redis.Addr,
		Password: c.Cache.Redis.Password,
		DB:       c.Cache.Redis.DB,
		Prefix:   c.Cache.Redis.Prefix,
	}
}

func (c *Config) HorizonsClientConfig() horizons.Config {
	def := horizons.DefaultConfig()
	return horizons.Config{
		BaseURL: c.Horizons.BaseURL,
		Step:    duration(c.Horizons.Step, def.Step),
		Markers: horizons.Markers{Start: c.Horizons.StartMarker, End: c.Horizons.EndMarker},
		Timeout: duration(c.Horizons.Timeout, def.Timeout),
	}
}

func (c *Config) RetryPolicy() datasource.RetryConfig {
	def := datasource.DefaultRetryConfig()
	return datasource.RetryConfig{
		MaxAttempts:    c.Retry.MaxAttempts,
		BaseDelay:      duration(c.Retry.BaseDelay, def.BaseDelay),
		Multiplier:     c.Retry.Multiplier,
		MaxDelay:       duration(c.Retry.MaxDelay, 0),
		AttemptTimeout: duration(c.Retry.AttemptTimeout, def.AttemptTimeout),
	}
}

func (c *Config) OrchestratorConfig() orchestrator.Config {
	def := orchestrator.DefaultConfig()
	return orchestrator.Config{
		StoreTimeout:    duration(c.Request.StoreTimeout, def.StoreTimeout),
		RequestDeadline: duration(c.Request.Deadline, def.RequestDeadline),
	}
}

func (c *Config) WarmerConfig() collector.Config {
	def := collector.DefaultConfig()
	return collector.Config{
		Interval:     duration(c.Warmup.Interval, def.Interval),
		Hours:        c.Warmup.Hours,
		Concurrency:  c.Warmup.Concurrency,
		FetchTimeout: def.FetchTimeout,
	}
}

func (c *Config) ShutdownTimeout() time.Duration {
	return duration(c.Server.ShutdownTimeout, 10*time.Second)
}

// duration parses s, falling back when it is empty or malformed
func duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
