package recurrence

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cyp0633/libcalseal/vcal"
)

// CacheEntry represents a cached range lookup
type CacheEntry struct {
	Result     bool
	ExpiresAt  time.Time
	AccessedAt time.Time
}

// ResultCache memoizes HasOccurrenceInRange answers per event content and
// range. It is shared by the engine and safe for concurrent use; expansion
// state itself is never cached here.
type ResultCache struct {
	entries         map[string]*CacheEntry
	mutex           sync.RWMutex
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// CacheConfig holds configuration for the result cache
type CacheConfig struct {
	TTL             time.Duration // How long entries stay valid
	MaxEntries      int           // Maximum number of entries before eviction
	CleanupInterval time.Duration // How often to run cleanup
}

// DefaultCacheConfig provides defaults for result caching
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// NewResultCache creates a result cache and starts its cleanup goroutine
func NewResultCache(config CacheConfig) *ResultCache {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCacheConfig.CleanupInterval
	}
	cache := &ResultCache{
		entries:         make(map[string]*CacheEntry),
		ttl:             config.TTL,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	go cache.cleanupLoop()
	return cache
}

// cacheKey hashes everything expansion depends on
func cacheKey(comp *vcal.Component, rangeStart, rangeEnd time.Time) string {
	hasher := sha256.New()
	write := func(s string) {
		hasher.Write([]byte(s))
		hasher.Write([]byte{0})
	}
	write(comp.UID())
	for _, name := range []string{"DTSTART", "DTEND", "DURATION", "RRULE"} {
		if p := comp.Get(name); p != nil {
			write(propertyKey(p))
		}
	}
	for _, ex := range comp.ExDates() {
		write(propertyKey(&ex))
	}
	write(rangeStart.UTC().Format(time.RFC3339))
	write(rangeEnd.UTC().Format(time.RFC3339))
	return hex.EncodeToString(hasher.Sum(nil))
}

func propertyKey(p *vcal.Property) string {
	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteString(p.TZID())
	switch p.Kind {
	case vcal.KindRecur:
		b.WriteString(p.Recur.String())
	case vcal.KindDuration:
		b.WriteString(p.Duration.String())
	default:
		b.WriteString(p.DateTime.String())
	}
	return b.String()
}

// Get retrieves a cached result if it exists and hasn't expired
func (c *ResultCache) Get(key string) (bool, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false, false
	}
	now := time.Now()
	if now.After(entry.ExpiresAt) {
		delete(c.entries, key)
		return false, false
	}
	entry.AccessedAt = now
	return entry.Result, true
}

// Set stores a result in the cache
func (c *ResultCache) Set(key string, result bool) {
	now := time.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = &CacheEntry{
		Result:     result,
		ExpiresAt:  now.Add(c.ttl),
		AccessedAt: now,
	}
	if len(c.entries) > c.maxEntries {
		c.cleanup()
	}
}

// cleanup removes expired entries, then the least recently used ones while
// over the limit. Callers hold the write lock.
func (c *ResultCache) cleanup() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return c.entries[a].AccessedAt.Compare(c.entries[b].AccessedAt)
	})
	for _, key := range keys[:len(keys)-c.maxEntries] {
		delete(c.entries, key)
	}
}

func (c *ResultCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			c.cleanup()
			c.mutex.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache
func (c *ResultCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
	})
	c.mutex.Lock()
	c.entries = make(map[string]*CacheEntry)
	c.mutex.Unlock()
}

// Stats returns cache statistics
func (c *ResultCache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	expired := 0
	now := time.Now()
	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			expired++
		}
	}
	return CacheStats{
		TotalEntries:   len(c.entries),
		ExpiredEntries: expired,
		ActiveEntries:  len(c.entries) - expired,
	}
}

// CacheStats provides information about cache contents
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
}
