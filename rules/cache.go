package rules

import "time"

// RulesCache holds the last loaded, ordered rule snapshot.
//
// Loads race with writes: a reader may fetch from the store, a write may
// then commit and invalidate, and only afterwards the reader tries to
// install what it fetched. Generation closes that window. A reader takes
// the generation before loading and installs with SetIfGeneration, which
// refuses once any Invalidate has happened in between.
type RulesCache interface {
	// Get returns the cached snapshot, or ok=false on a miss or expiry.
	Get() (rules []Rule, ok bool)

	// Generation returns a counter bumped by every Invalidate.
	Generation() uint64

	// SetIfGeneration stores rules only if no Invalidate happened since
	// gen was read. Reports whether the snapshot was installed.
	SetIfGeneration(gen uint64, rules []Rule) bool

	// Invalidate drops the snapshot. Writers call it before returning.
	Invalidate()
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // No TTL - only invalidate on mutations
	}
}
