package cache

import (
	"testing"
	"time"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTTLCache[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %v %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to expire")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Fatalf("expected b to persist without ttl, got %v %v", v, ok)
	}

	c.Delete("b")
	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be deleted")
	}
}

func TestTTLCacheSetSweepsExpiredEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTTLCache[int, string](func() time.Time { return now })

	for i := 0; i < 100; i++ {
		c.Set(i, "expired soon", time.Minute)
	}
	c.Set(1000, "kept", 0)
	if got := c.Len(); got != 101 {
		t.Fatalf("expected 101 entries, got %d", got)
	}

	now = now.Add(30 * time.Second)
	c.Set(1001, "fresh", time.Hour)
	if got := c.Len(); got != 102 {
		t.Fatalf("expected no sweep before the interval, got %d entries", got)
	}

	now = now.Add(time.Minute)
	c.Set(1002, "fresh", time.Hour)
	if got := c.Len(); got != 3 {
		t.Fatalf("expected expired entries swept, got %d entries", got)
	}
	if _, ok := c.Get(1000); !ok {
		t.Fatal("expected entry without ttl to survive the sweep")
	}
}
