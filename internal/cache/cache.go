// Package cache provides in-memory caching for upstream rule lists and conversion results.
package cache

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xxxbrian/surge-qx/internal/converter"
)

// UpstreamCache holds downloaded rule lists keyed by URL
type UpstreamCache struct {
	mu          sync.RWMutex
	entries     map[string]*upstreamEntry
	ttl         time.Duration
	persistPath string
}

type upstreamEntry struct {
	Data      []byte
	ETag      string
	Timestamp time.Time
	// LastUsed is bumped by client requests only, never by refreshes.
	LastUsed time.Time
}

func (e *upstreamEntry) lastUsed() time.Time {
	if e.LastUsed.IsZero() {
		return e.Timestamp
	}
	return e.LastUsed
}

// NewUpstreamCache creates a new UpstreamCache with the specified TTL
func NewUpstreamCache(ttl time.Duration) *UpstreamCache {
	return &UpstreamCache{
		entries: make(map[string]*upstreamEntry),
		ttl:     ttl,
	}
}

// SetPersistPath enables on-disk persistence for the upstream cache.
func (c *UpstreamCache) SetPersistPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistPath = path
}

// Get returns the cached body for url if still fresh, and its ETag.
// An expired entry yields nil data with its last known ETag.
func (c *UpstreamCache) Get(url string) ([]byte, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[url]
	if !ok {
		return nil, "", false
	}

	if time.Since(entry.Timestamp) > c.ttl {
		return nil, entry.ETag, false
	}

	return entry.Data, entry.ETag, true
}

// GetAny returns the cached body for url regardless of TTL.
func (c *UpstreamCache) GetAny(url string) ([]byte, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[url]
	if !ok {
		return nil, "", false
	}
	return entry.Data, entry.ETag, true
}

// Set stores a body for url and persists the cache if configured.
// Replacing an existing entry keeps its last-used time.
func (c *UpstreamCache) Set(url string, data []byte, etag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	lastUsed := now
	if old, ok := c.entries[url]; ok {
		lastUsed = old.lastUsed()
	}
	c.entries[url] = &upstreamEntry{
		Data:      data,
		ETag:      etag,
		Timestamp: now,
		LastUsed:  lastUsed,
	}
	return c.persistToFileLocked()
}

// MarkUsed records a client request for url.
func (c *UpstreamCache) MarkUsed(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[url]; ok {
		entry.LastUsed = time.Now()
	}
}

// Cleanup evicts lists nobody requested within maxIdle and returns how many
// were removed. The persisted file is rewritten only when something changed.
func (c *UpstreamCache) Cleanup(maxIdle time.Duration) (int, error) {
	if maxIdle <= 0 {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for url, entry := range c.entries {
		if now.Sub(entry.lastUsed()) > maxIdle {
			delete(c.entries, url)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, c.persistToFileLocked()
}

// Len returns the number of cached lists.
func (c *UpstreamCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Touch marks the entry for url as fresh without changing its body.
func (c *UpstreamCache) Touch(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[url]; ok {
		entry.Timestamp = time.Now()
	}
}

// GetETag returns the ETag stored for url.
func (c *UpstreamCache) GetETag(url string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if entry, ok := c.entries[url]; ok {
		return entry.ETag
	}
	return ""
}

// URLs returns the cached URLs in sorted order.
func (c *UpstreamCache) URLs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	urls := make([]string, 0, len(c.entries))
	for url := range c.entries {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// LoadFromFile restores cache data from disk if available.
func (c *UpstreamCache) LoadFromFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	persisted := make(map[string]*upstreamEntry)
	if err := gob.NewDecoder(file).Decode(&persisted); err != nil {
		return err
	}

	c.entries = persisted
	c.persistPath = path
	return nil
}

func (c *UpstreamCache) persistToFileLocked() error {
	if c.persistPath == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.persistPath), 0o755); err != nil {
		return err
	}

	tmpPath := c.persistPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(c.entries)
	closeErr := file.Close()
	if err != nil {
		os.Remove(tmpPath) // cleanup on failure
		return err
	}
	if closeErr != nil {
		os.Remove(tmpPath) // cleanup on failure
		return closeErr
	}

	return os.Rename(tmpPath, c.persistPath)
}

// ResultCache caches the conversion results
type ResultCache struct {
	mu      sync.RWMutex
	results map[string]*cacheEntry
	ttl     time.Duration
}

type cacheEntry struct {
	value     string
	stats     converter.Stats
	timestamp time.Time
	etag      string
}

// NewResultCache creates a new ResultCache with the specified TTL
func NewResultCache(ttl time.Duration) *ResultCache {
	return &ResultCache{
		results: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

// Get retrieves a cached result and its conversion stats if the ETag
// matches and it has not expired.
func (c *ResultCache) Get(key, etag string) (string, converter.Stats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.results[key]
	if !ok {
		return "", converter.Stats{}, false
	}

	if entry.etag != etag || time.Since(entry.timestamp) > c.ttl {
		return "", converter.Stats{}, false
	}

	return entry.value, entry.stats, true
}

// Set stores a result in the cache
func (c *ResultCache) Set(key, value, etag string, stats converter.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = &cacheEntry{
		value:     value,
		stats:     stats,
		timestamp: time.Now(),
		etag:      etag,
	}
}

// Len returns the number of cached results, expired or not.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// Cleanup removes expired entries
func (c *ResultCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.results {
		if now.Sub(entry.timestamp) > c.ttl {
			delete(c.results, key)
		}
	}
}
