package query

import (
	"testing"
	"time"
)

func TestCacheHitAndExpiry(t *testing.T) {
	c := NewCache(4, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Put("k", []MoveStat{{UCI: "e2e4", Count: 3}})
	got, ok := c.Get("k")
	if !ok || len(got) != 1 || got[0].UCI != "e2e4" {
		t.Fatalf("fresh entry: %v %v", got, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry served")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not dropped: %d", c.Len())
	}
}

func TestCacheEvictsOldest(t *testing.T) {
	c := NewCache(2, time.Hour)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Put("old", nil)
	now = now.Add(time.Second)
	c.Put("mid", nil)
	now = now.Add(time.Second)
	c.Put("new", nil)

	if c.Len() != 2 {
		t.Fatalf("capacity not enforced: %d", c.Len())
	}
	if _, ok := c.Get("old"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("newest entry evicted")
	}
}

func TestCacheOverwriteDoesNotEvict(t *testing.T) {
	c := NewCache(2, time.Hour)
	c.Put("a", nil)
	c.Put("b", nil)
	c.Put("a", []MoveStat{{UCI: "x"}})
	if c.Len() != 2 {
		t.Errorf("overwrite changed size: %d", c.Len())
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("overwrite evicted an unrelated entry")
	}
}

func TestCacheKeyDistinguishesFilters(t *testing.T) {
	rated := true
	base := Filters{Bucket: BucketOpponent}
	variants := []Filters{
		{Bucket: BucketAgainst},
		{Bucket: BucketOpponent, Rated: &rated},
		{Bucket: BucketOpponent, Speeds: []string{"blitz"}},
		{Bucket: BucketOpponent, SinceMs: 5},
		{Bucket: BucketOpponent, ECO: "B20"},
	}
	baseKey := base.cacheKey("u", "p", "bob", "pos")
	seen := map[string]bool{baseKey: true}
	for i, f := range variants {
		k := f.cacheKey("u", "p", "bob", "pos")
		if seen[k] {
			t.Errorf("variant %d collides: %q", i, k)
		}
		seen[k] = true
	}
	if baseKey == "" {
		t.Error("empty cache key")
	}
}
