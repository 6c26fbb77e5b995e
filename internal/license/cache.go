package license

import (
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a cached validation stays fresh.
	DefaultTTL = 5 * time.Minute

	// DefaultGracePeriod is how long a stale entry may still be served when
	// the license service is unreachable.
	DefaultGracePeriod = 24 * time.Hour

	// sweepInterval is how often the background sweeper evicts entries that
	// have aged past the grace period.
	sweepInterval = 10 * time.Minute
)

type cacheEntry struct {
	record   *Record
	cachedAt time.Time
}

// Cache holds verified entitlement records keyed by (user, plugin).
// Entries are fresh for the TTL and usable as a degraded fallback for the
// grace period after that.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	ttl     time.Duration
	grace   time.Duration

	stopOnce sync.Once
	stop     chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

type cacheKey struct {
	userID   string
	pluginID string
}

// NewCache creates a cache with the given freshness TTL and grace period.
// Zero values select the defaults. The background sweeper runs until Stop.
func NewCache(ttl, grace time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	c := &Cache{
		entries: make(map[cacheKey]cacheEntry),
		ttl:     ttl,
		grace:   grace,
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go c.sweep()
	return c
}

// Get returns the cached record for the key if it is still fresh.
func (c *Cache) Get(userID, pluginID string) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey{userID: userID, pluginID: pluginID}]
	if !ok || c.now().Sub(entry.cachedAt) > c.ttl {
		return nil, false
	}
	return entry.record, true
}

// GetStale returns the cached record even past its TTL, as long as it is
// within the grace period. Used when the license service is unreachable.
func (c *Cache) GetStale(userID, pluginID string) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey{userID: userID, pluginID: pluginID}]
	if !ok || c.now().Sub(entry.cachedAt) > c.grace {
		return nil, false
	}
	return entry.record, true
}

// Set stores a verified record for the key, resetting its age.
func (c *Cache) Set(userID, pluginID string, record *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey{userID: userID, pluginID: pluginID}] = cacheEntry{
		record:   record,
		cachedAt: c.now(),
	}
}

// Invalidate drops any cached entry for the key.
func (c *Cache) Invalidate(userID, pluginID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey{userID: userID, pluginID: pluginID})
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop terminates the background sweeper. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.cachedAt) > c.grace {
			delete(c.entries, key)
		}
	}
}
