package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func cacheConn(slug string) *tenantConn {
	return &tenantConn{tenant: &TenantRecord{Slug: slug, Status: "active"}}
}

func TestPoolCacheGetPut(t *testing.T) {
	c := newPoolCache(10, time.Hour)

	c.put("a", cacheConn("a"))

	got, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "a", got.tenant.Slug)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestPoolCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newPoolCache(3, time.Hour)

	c.put("a", cacheConn("a"))
	c.put("b", cacheConn("b"))
	c.put("c", cacheConn("c"))

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.get("a")
	assert.True(t, ok)

	c.put("d", cacheConn("d"))

	_, ok = c.get("b")
	assert.False(t, ok, "least recently used entry should be evicted")

	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.get(key)
		assert.True(t, ok, "entry %q should survive", key)
	}
}

func TestPoolCacheTTLExpiry(t *testing.T) {
	c := newPoolCache(10, 10*time.Millisecond)

	c.put("a", cacheConn("a"))
	time.Sleep(20 * time.Millisecond)

	_, ok := c.get("a")
	assert.False(t, ok, "expired entry should be dropped")
	assert.Equal(t, 0, c.len())
}

func TestPoolCacheRemove(t *testing.T) {
	c := newPoolCache(10, time.Hour)

	c.put("a", cacheConn("a"))
	c.remove("a")

	_, ok := c.get("a")
	assert.False(t, ok)

	// Removing an absent key is a no-op.
	c.remove("a")
}

func TestPoolCacheOverwriteKeepsSingleEntry(t *testing.T) {
	c := newPoolCache(10, time.Hour)

	c.put("a", cacheConn("old"))
	c.put("a", cacheConn("new"))

	assert.Equal(t, 1, c.len())
	got, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "new", got.tenant.Slug)
}

func TestPoolCacheCapacityBound(t *testing.T) {
	c := newPoolCache(5, time.Hour)

	for i := 0; i < 50; i++ {
		c.put(fmt.Sprintf("t%d", i), cacheConn("x"))
	}

	assert.Equal(t, 5, c.len())
}
