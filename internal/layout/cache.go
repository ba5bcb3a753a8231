package layout

import "sync"

type cacheEntry struct {
	Layout TypeLayout
	Err    *LayoutError
}

// cache is keyed by the mangled type encoding and shared by concurrent
// specialization workers.
type cache struct {
	mu     sync.RWMutex
	byType map[string]cacheEntry
}

func newCache() *cache {
	return &cache{byType: make(map[string]cacheEntry, 256)}
}

func (c *cache) get(key string) (cacheEntry, bool) {
	if c == nil {
		return cacheEntry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.byType[key]
	return l, ok
}

func (c *cache) put(key string, entry cacheEntry) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byType[key] = entry
}

func (c *cache) len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byType)
}
