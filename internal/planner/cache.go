package planner

import "sync"

const defaultCacheSize = 1024

// Cache stores plans keyed by shape hash. Entries are value-free, so a hit is
// safe across requests with different literals. The whole cache is purged when
// the schema snapshot it was built against is replaced.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Plan
	order   []string // insertion order, oldest first
	max     int
}

// NewCache creates a cache bounded to max entries; max <= 0 uses the default.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = defaultCacheSize
	}
	return &Cache{
		entries: make(map[string]*Plan, max),
		max:     max,
	}
}

// Get returns the cached plan for a shape hash.
func (c *Cache) Get(hash string) (*Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	plan, ok := c.entries[hash]
	return plan, ok
}

// Put stores a plan, evicting the oldest entry when full.
func (c *Cache) Put(plan *Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[plan.Hash]; exists {
		return
	}
	for len(c.entries) >= c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[plan.Hash] = plan
	c.order = append(c.order, plan.Hash)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Plan, c.max)
	c.order = nil
}

// Len returns the number of cached plans.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
