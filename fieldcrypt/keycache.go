package fieldcrypt

import (
	"encoding/hex"
	"sync"
	"time"
)

const (
	defaultKeyCacheSize = 1024
	defaultKeyTTL       = time.Hour
)

// keyCache holds derived keys keyed by (purpose, salt) for a bounded
// lifetime. It is purely a performance optimization around the expensive
// KDF: it lives only in process memory, never persists, and is never the
// sole source of truth; a miss simply re-derives.
type keyCache struct {
	mu      sync.Mutex
	entries map[string]keyCacheEntry
	max     int
	ttl     time.Duration
}

type keyCacheEntry struct {
	key       []byte
	expiresAt time.Time
}

func newKeyCache(max int, ttl time.Duration) *keyCache {
	return &keyCache{
		entries: make(map[string]keyCacheEntry),
		max:     max,
		ttl:     ttl,
	}
}

func cacheKey(purpose string, salt []byte) string {
	return purpose + "|" + hex.EncodeToString(salt)
}

func (c *keyCache) get(purpose string, salt []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[cacheKey(purpose, salt)]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.key
}

func (c *keyCache) put(purpose string, salt []byte, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Purge expired entries before considering the size bound; if the
	// cache is still full, drop it wholesale rather than track LRU order
	// for what is only a derivation shortcut.
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) >= c.max {
		c.entries = make(map[string]keyCacheEntry)
	}

	c.entries[cacheKey(purpose, salt)] = keyCacheEntry{
		key:       key,
		expiresAt: now.Add(c.ttl),
	}
}
