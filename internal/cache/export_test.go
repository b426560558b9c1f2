package cache

import "time"

// setRaw stores bytes verbatim so tests can seed undecodable entries
func (c *MemoryCache) setRaw(key string, raw []byte, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = c.entry(raw, ttl)
	c.mu.Unlock()
}
