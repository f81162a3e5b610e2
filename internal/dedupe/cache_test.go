// ABOUTME: Tests for the dedupe cache used to skip repeated submissions.
// ABOUTME: Validates key normalization, TTL expiration, eviction, cleanup, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Normalization(t *testing.T) {
	a := Key("ada", "Solve  x + 2 = 5\n")
	b := Key("ada", "solve x + 2 = 5")
	assert.Equal(t, a, b, "case and whitespace should not matter")

	assert.NotEqual(t, a, Key("bob", "solve x + 2 = 5"), "students must not share keys")
	assert.NotEqual(t, a, Key("ada", "solve x + 3 = 5"))
	assert.Len(t, a, 64)
}

func TestCache_Lookup_NotSeen(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	_, ok := cache.Lookup("never-seen-key")
	assert.False(t, ok)
}

func TestCache_RememberAndLookup(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Remember("k", "run-1")
	got, ok := cache.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, "run-1", got)

	cache.Remember("k", "run-2")
	got, _ = cache.Lookup("k")
	assert.Equal(t, "run-2", got)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Remember("expiring-key", "run-1")
	_, ok := cache.Lookup("expiring-key")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = cache.Lookup("expiring-key")
	assert.False(t, ok)

	// An expired key can be claimed again
	got, dup := cache.Claim("expiring-key", "run-2")
	assert.False(t, dup)
	assert.Equal(t, "run-2", got)
}

func TestCache_Claim(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	got, dup := cache.Claim("k", "run-1")
	assert.False(t, dup)
	assert.Equal(t, "run-1", got)

	got, dup = cache.Claim("k", "run-2")
	assert.True(t, dup)
	assert.Equal(t, "run-1", got, "existing value wins")
}

func TestCache_Forget(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Remember("k", "run-1")
	cache.Forget("k")
	cache.Forget("missing")

	_, ok := cache.Lookup("k")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())

	_, dup := cache.Claim("k", "run-2")
	assert.False(t, dup)
}

func TestCache_EvictsOldest(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	for i := 1; i <= 4; i++ {
		cache.Remember(fmt.Sprintf("key-%d", i), fmt.Sprintf("run-%d", i))
	}

	assert.Equal(t, 3, cache.Len())
	_, ok := cache.Lookup("key-1")
	assert.False(t, ok, "oldest entry should be evicted")
	for i := 2; i <= 4; i++ {
		_, ok := cache.Lookup(fmt.Sprintf("key-%d", i))
		assert.True(t, ok)
	}
}

func TestCache_RememberRefreshesOrder(t *testing.T) {
	cache := New(5*time.Minute, 2)
	defer cache.Close()

	cache.Remember("a", "1")
	cache.Remember("b", "2")
	cache.Remember("a", "1") // a becomes newest
	cache.Remember("c", "3") // evicts b

	_, ok := cache.Lookup("b")
	assert.False(t, ok)
	_, ok = cache.Lookup("a")
	assert.True(t, ok)
}

func TestCache_RunCleanup(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Remember("old", "run-1")
	time.Sleep(20 * time.Millisecond)
	cache.Remember("fresh", "run-2")

	cache.runCleanup()

	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Lookup("fresh")
	assert.True(t, ok)
}

func TestCache_CloseIdempotent(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	assert.NotPanics(t, func() { cache.Close() })
}

func TestCache_ConcurrentClaim(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, dup := cache.Claim("same", fmt.Sprintf("run-%d", i)); !dup {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(), "exactly one claim should win")
}
