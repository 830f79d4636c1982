package statestore

import (
	"testing"
	"time"
)

func TestLRUEvictsLeastRecentlyUsedOnOverflow(t *testing.T) {
	c := newLRU(2)
	now := time.Now()

	c.Put("a", 1, now)
	c.Put("b", 2, now)
	c.Put("c", 3, now) // evicts "a"

	if _, ok := c.Get("a"); ok {
		t.Error("expected \"a\" to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected \"b\" to survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected \"c\" to survive")
	}
}

func TestLRUGetRefreshesRecency(t *testing.T) {
	c := newLRU(2)
	now := time.Now()

	c.Put("a", 1, now)
	c.Put("b", 2, now)
	c.Get("a") // "a" is now most-recently-used
	c.Put("c", 3, now) // should evict "b", not "a"

	if _, ok := c.Get("b"); ok {
		t.Error("expected \"b\" to be evicted after \"a\" was refreshed")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected \"a\" to survive")
	}
}

func TestLRUEvictStaleRemovesOldEntries(t *testing.T) {
	c := newLRU(10)
	now := time.Now()

	c.Put("fresh", 1, now)
	c.Put("stale", 2, now.Add(-25*time.Hour))

	evicted := c.EvictStale(now, StaleAge)
	if len(evicted) != 1 || evicted[0] != "stale" {
		t.Errorf("expected only \"stale\" evicted, got %v", evicted)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("expected \"fresh\" to survive")
	}
	if _, ok := c.Get("stale"); ok {
		t.Error("expected \"stale\" to be gone")
	}
}

func TestLRUPutUpdatesExistingValueWithoutGrowing(t *testing.T) {
	c := newLRU(2)
	now := time.Now()
	c.Put("a", 1, now)
	c.Put("a", 2, now)

	if c.Len() != 1 {
		t.Fatalf("expected length 1, got %d", c.Len())
	}
	v, _ := c.Get("a")
	if v.(int) != 2 {
		t.Errorf("expected updated value 2, got %v", v)
	}
}
