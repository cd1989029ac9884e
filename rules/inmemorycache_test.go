package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRulesCache_GetSet(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())

	_, ok := cache.Get()
	assert.False(t, ok, "empty cache must miss")

	rules := []Rule{testRule("1", "a", 1, true, "x")}
	require.True(t, cache.SetIfGeneration(cache.Generation(), rules))

	got, ok := cache.Get()
	require.True(t, ok)
	assert.Equal(t, rules, got)
	assert.True(t, cache.IsValid())
}

func TestInMemoryRulesCache_EmptySnapshotIsAHit(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())
	require.True(t, cache.SetIfGeneration(cache.Generation(), nil))

	got, ok := cache.Get()
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestInMemoryRulesCache_Invalidate(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())
	cache.SetIfGeneration(cache.Generation(), []Rule{testRule("1", "a", 1, true, "x")})

	before := cache.Generation()
	cache.Invalidate()

	assert.Equal(t, before+1, cache.Generation())
	_, ok := cache.Get()
	assert.False(t, ok)
	assert.False(t, cache.IsValid())
}

// TestInMemoryRulesCache_RefusesStaleSnapshot covers a load that started
// before a write and finishes after it.
func TestInMemoryRulesCache_RefusesStaleSnapshot(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())

	gen := cache.Generation()
	stale := []Rule{testRule("1", "old", 1, true, "x")}
	cache.Invalidate() // write committed while the load was in flight

	assert.False(t, cache.SetIfGeneration(gen, stale))
	_, ok := cache.Get()
	assert.False(t, ok)

	assert.True(t, cache.SetIfGeneration(cache.Generation(), stale))
}

func TestInMemoryRulesCache_TTL(t *testing.T) {
	now := baseTime
	cache := NewInMemoryRulesCache(CacheConfig{TTL: time.Minute})
	cache.now = func() time.Time { return now }

	cache.SetIfGeneration(cache.Generation(), []Rule{testRule("1", "a", 1, true, "x")})

	now = now.Add(30 * time.Second)
	_, ok := cache.Get()
	assert.True(t, ok)

	now = now.Add(31 * time.Second)
	_, ok = cache.Get()
	assert.False(t, ok, "entry older than TTL must miss")
}

func TestInMemoryRulesCache_ReturnsCopies(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())
	rules := []Rule{testRule("1", "a", 1, true, "x")}
	cache.SetIfGeneration(cache.Generation(), rules)

	rules[0].Keywords[0] = "mutated"
	got, _ := cache.Get()
	assert.Equal(t, "x", got[0].Keywords[0])

	got[0].Name = "mutated"
	again, _ := cache.Get()
	assert.Equal(t, "a", again[0].Name)
}
