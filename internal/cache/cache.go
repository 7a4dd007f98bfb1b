package cache

import (
	"sort"
	"sync"
	"time"
)

// Class selects how long an entry lives.
type Class int

const (
	// Default entries live for an hour.
	Default Class = iota
	// Static is reference data that only changes with a feed import.
	Static
	// Calendar entries expire at the end of the current day.
	Calendar
	// Dynamic is short-lived lookup data.
	Dynamic
)

const (
	defaultTTL = time.Hour
	staticTTL  = 24 * time.Hour
	dynamicTTL = 15 * time.Minute
)

// Cache is an in-memory TTL cache for schedule lookups and route results.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	loc     *time.Location
	now     func() time.Time
	done    chan struct{}
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// New creates a cache whose day boundaries are taken in loc.
func New(loc *time.Location) *Cache {
	c := &Cache{
		entries: make(map[string]cacheEntry),
		loc:     loc,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	// Background cleanup every 5 minutes
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.cleanup()
			case <-c.done:
				return
			}
		}
	}()
	return c
}

// Close stops the background cleanup.
func (c *Cache) Close() {
	close(c.done)
}

// Get retrieves a cached value if it exists and hasn't expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Set stores a value with the lifetime of its class.
func (c *Cache) Set(key string, value any, class Class) {
	c.SetUntil(key, value, c.expiry(class))
}

// SetForDay stores a value until the end of day (in the cache's location).
// Values for days already over are not stored.
func (c *Cache) SetForDay(key string, value any, day time.Time) {
	c.SetUntil(key, value, EndOfDay(day, c.location()))
}

// SetUntil stores a value with an explicit expiry.
func (c *Cache) SetUntil(key string, value any, expiresAt time.Time) {
	if !c.now().Before(expiresAt) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{value: value, expiresAt: expiresAt}
}

// Delete removes one key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Stats describes the cache contents.
type Stats struct {
	Total   int      `json:"totalItems"`
	Valid   int      `json:"valid"`
	Expired int      `json:"expired"`
	Keys    []string `json:"keys"`
}

// Stats counts live and expired-but-not-yet-cleaned entries.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	s := Stats{Total: len(c.entries), Keys: make([]string, 0, len(c.entries))}
	for k, e := range c.entries {
		if now.Before(e.expiresAt) {
			s.Valid++
		} else {
			s.Expired++
		}
		s.Keys = append(s.Keys, k)
	}
	sort.Strings(s.Keys)
	return s
}

func (c *Cache) expiry(class Class) time.Time {
	now := c.now()
	switch class {
	case Static:
		return now.Add(staticTTL)
	case Calendar:
		return EndOfDay(now, c.location())
	case Dynamic:
		return now.Add(dynamicTTL)
	default:
		return now.Add(defaultTTL)
	}
}

func (c *Cache) location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, v := range c.entries {
		if !now.Before(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// EndOfDay returns the first instant of the day after t, in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
}
