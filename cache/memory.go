// Package cache provides a small in-memory TTL cache, used to avoid
// re-fetching remote queue and custom-field listings on every settings
// validation.
package cache

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

type item struct {
	value     interface{}
	expiresAt time.Time
}

// MemoryCache is an in-memory cache with per-key TTL.
type MemoryCache struct {
	items map[string]*item
	mutex sync.RWMutex
}

// NewMemoryCache creates an empty cache and starts its cleanup loop.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{items: make(map[string]*item)}
	go c.cleanup()
	return c
}

// Set stores a value with a TTL. A non-positive TTL means no expiration.
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	expiresAt := time.Time{}
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.items[key] = &item{value: value, expiresAt: expiresAt}
}

// Get unmarshals the cached value into dest. The round trip through JSON
// gives callers their own copy.
func (c *MemoryCache) Get(key string, dest interface{}) error {
	c.mutex.RLock()
	entry, exists := c.items[key]
	c.mutex.RUnlock()

	if !exists {
		return ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.Delete(key)
		return ErrNotFound
	}

	data, err := json.Marshal(entry.value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete removes a key.
func (c *MemoryCache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.items, key)
}

// Size returns the number of unexpired entries.
func (c *MemoryCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	count := 0
	now := time.Now()
	for _, entry := range c.items {
		if entry.expiresAt.IsZero() || now.Before(entry.expiresAt) {
			count++
		}
	}
	return count
}

func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mutex.Lock()
		now := time.Now()
		for key, entry := range c.items {
			if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
				delete(c.items, key)
			}
		}
		c.mutex.Unlock()
	}
}
