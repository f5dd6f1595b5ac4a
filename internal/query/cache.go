package query

import (
	"sync"
	"time"
)

// Cache is a small bounded TTL cache for move distributions. Entries go
// stale quickly while imports run, so the TTL is short and misses are cheap.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	cap     int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	moves []MoveStat
	at    time.Time
}

// NewCache creates a cache holding at most capacity entries, each valid
// for ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry, capacity),
		cap:     capacity,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached distribution if present and fresh.
func (c *Cache) Get(key string) ([]MoveStat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.at) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.moves, true
}

// Put stores a distribution, evicting the oldest entry when full.
func (c *Cache) Put(key string, moves []MoveStat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.cap {
		var oldestKey string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.at.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.at
			}
		}
		delete(c.entries, oldestKey)
	}
	c.entries[key] = cacheEntry{moves: moves, at: c.now()}
}

// Len reports the live entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
