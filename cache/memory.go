package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ephemeris-service/models"
)

// MemoryStore keeps positions in process memory
type MemoryStore struct {
	opts           Options
	entries        map[string]models.CacheEntry // key is planet:unix-hour
	mutex          sync.RWMutex
	cacheHitCount  int
	cacheMissCount int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		entries: make(map[string]models.CacheEntry),
	}
}

func memoryKey(planet models.Planet, hourBucket time.Time) string {
	return fmt.Sprintf("%s:%d", planet, models.HourBucket(hourBucket).Unix())
}

// Get returns the live entry for the key, if any
func (m *MemoryStore) Get(ctx context.Context, planet models.Planet, hourBucket time.Time) (models.PlanetPosition, bool, error) {
	key := memoryKey(planet, hourBucket)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, found := m.entries[key]
	if found && entry.Live(m.opts.Now()) {
		m.cacheHitCount++
		return entry.Position, true, nil
	}
	m.cacheMissCount++
	return models.PlanetPosition{}, false, nil
}

// Put upserts the entry for the key
func (m *MemoryStore) Put(ctx context.Context, planet models.Planet, hourBucket time.Time, pos models.PlanetPosition) error {
	entry := entryFor(planet, hourBucket, pos, m.opts.Now(), m.opts.TTL)

	m.mutex.Lock()
	m.entries[memoryKey(planet, hourBucket)] = entry
	m.mutex.Unlock()
	return nil
}

// Prune removes expired entries
func (m *MemoryStore) Prune(ctx context.Context) (int, error) {
	now := m.opts.Now()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	pruned := 0
	for key, entry := range m.entries {
		if !entry.Live(now) {
			delete(m.entries, key)
			pruned++
		}
	}
	return pruned, nil
}

// Len returns the number of stored entries, live or not
func (m *MemoryStore) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.entries)
}

// CacheStats returns statistics about cache hits and misses
func (m *MemoryStore) CacheStats() (hits, misses int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.cacheHitCount, m.cacheMissCount
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Pruner = (*MemoryStore)(nil)
)
