package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ephemeris-service/models"

	"github.com/go-redis/redis/v8"
)

// RedisOptions configures the Redis backend
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps positions as JSON values whose expiry Redis enforces.
// GET does not touch the TTL, so expiry stays anchored to the write.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   Options
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ro RedisOptions, opts Options) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     ro.Addr,
		Password: ro.Password,
		DB:       ro.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", ro.Addr, err)
	}

	return NewRedisStoreFromClient(client, ro.Prefix, opts), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, prefix string, opts Options) *RedisStore {
	if prefix == "" {
		prefix = "ephemeris:"
	}
	return &RedisStore{client: client, prefix: prefix, opts: opts.withDefaults()}
}

func (r *RedisStore) key(planet models.Planet, hourBucket time.Time) string {
	return fmt.Sprintf("%sposition:%s:%d", r.prefix, planet, models.HourBucket(hourBucket).Unix()/3600)
}

// Get returns the position for the key unless Redis has expired it
func (r *RedisStore) Get(ctx context.Context, planet models.Planet, hourBucket time.Time) (models.PlanetPosition, bool, error) {
	data, err := r.client.Get(ctx, r.key(planet, hourBucket)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.PlanetPosition{}, false, nil
	}
	if err != nil {
		return models.PlanetPosition{}, false, &StoreError{Op: "get", Backend: "redis", Err: err}
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return models.PlanetPosition{}, false, &StoreError{Op: "decode", Backend: "redis", Err: err}
	}
	// Guards against clock skew between this process and the Redis server
	if !entry.Live(r.opts.Now()) {
		return models.PlanetPosition{}, false, nil
	}
	return entry.Position, true, nil
}

// Put overwrites the value for the key and resets its TTL
func (r *RedisStore) Put(ctx context.Context, planet models.Planet, hourBucket time.Time, pos models.PlanetPosition) error {
	entry := entryFor(planet, hourBucket, pos, r.opts.Now(), r.opts.TTL)

	data, err := json.Marshal(entry)
	if err != nil {
		return &StoreError{Op: "encode", Backend: "redis", Err: err}
	}
	if err := r.client.Set(ctx, r.key(planet, hourBucket), data, r.opts.TTL).Err(); err != nil {
		return &StoreError{Op: "put", Backend: "redis", Err: err}
	}
	return nil
}

// Close closes the client
func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
