package rules

import (
	"sync"
	"time"
)

// InMemoryRulesCache is a simple in-memory implementation of RulesCache
// Thread-safe for concurrent access
type InMemoryRulesCache struct {
	rules      []Rule
	cachedAt   time.Time
	generation uint64
	config     CacheConfig
	now        func() time.Time
	mu         sync.RWMutex
	isValid    bool
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		config: config,
		now:    time.Now,
	}
}

// Get retrieves cached rules
// Returns ok=false if cache is invalid or expired
func (c *InMemoryRulesCache) Get() ([]Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid || c.expired() {
		return nil, false
	}

	// Return copy to prevent external modifications
	return cloneRules(c.rules), true
}

func (c *InMemoryRulesCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *InMemoryRulesCache) SetIfGeneration(gen uint64, rules []Rule) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return false
	}

	// Store copy to prevent external modifications
	c.rules = cloneRules(rules)
	c.cachedAt = c.now()
	c.isValid = true
	return true
}

// Invalidate clears the cache
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.isValid = false
	c.rules = nil
}

// IsValid returns true if cache contains valid data
func (c *InMemoryRulesCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.isValid && !c.expired()
}

// expired must be called with mu held.
func (c *InMemoryRulesCache) expired() bool {
	return c.config.TTL > 0 && c.now().Sub(c.cachedAt) > c.config.TTL
}

func cloneRules(in []Rule) []Rule {
	if in == nil {
		return nil
	}
	out := make([]Rule, len(in))
	for i := range in {
		out[i] = in[i].clone()
	}
	return out
}
