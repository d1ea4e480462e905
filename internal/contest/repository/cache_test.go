package repository

import (
	"context"
	"testing"
	"time"

	"codearena/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLRUCacheEvictsOldest(t *testing.T) {
	c := NewLRUCache[bool](2, time.Minute)
	c.Set("a", true, 0)
	c.Set("b", false, 0)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should be cached")
	}
	c.Set("c", true, 0)

	if _, ok := c.Get("b"); ok {
		t.Fatal("b should be evicted as least recently used")
	}
	if v, ok := c.Get("a"); !ok || !v {
		t.Fatalf("a = %v, %v", v, ok)
	}
	if len(c.items) != 2 || c.order.Len() != 2 {
		t.Fatalf("size = %d/%d, want 2", len(c.items), c.order.Len())
	}
}

func TestLRUCacheExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewLRUCache[string](4, time.Second)
	c.now = func() time.Time { return now }

	c.Set("k", "v", 0)
	c.Set("forever", "v", -1)
	now = now.Add(2 * time.Second)

	if _, ok := c.Get("k"); ok {
		t.Fatal("k should have expired")
	}
	if _, ok := c.Get("forever"); !ok {
		t.Fatal("negative ttl should never expire")
	}
}

func TestNilLRUCache(t *testing.T) {
	var c *LRUCache[bool]
	c.Set("a", true, 0)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("nil cache should be empty")
	}
}

func newRedis(t *testing.T) (cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestDisqualificationCacheTiers(t *testing.T) {
	ctx := context.Background()
	rc, mr := newRedis(t)
	local := NewLRUCache[bool](16, time.Minute)
	dc := NewDisqualificationCache(local, rc, time.Minute, time.Second)

	if _, found, err := dc.Lookup(ctx, "u1", 7); err != nil || found {
		t.Fatalf("empty lookup found=%v err=%v", found, err)
	}

	dc.Store(ctx, "u1", 7, true)
	if v, err := mr.Get("contest:disqualified:7:u1"); err != nil || v != "true" {
		t.Fatalf("redis value = %q, %v", v, err)
	}

	local.Delete("contest:disqualified:7:u1")
	flag, found, err := dc.Lookup(ctx, "u1", 7)
	if err != nil || !found || !flag {
		t.Fatalf("redis lookup = %v %v %v", flag, found, err)
	}
	if _, ok := local.Get("contest:disqualified:7:u1"); !ok {
		t.Fatal("redis hit should populate the local tier")
	}

	dc.Invalidate(ctx, "u1", 7)
	if mr.Exists("contest:disqualified:7:u1") {
		t.Fatal("invalidate should drop the redis key")
	}
	if _, found, _ := dc.Lookup(ctx, "u1", 7); found {
		t.Fatal("lookup after invalidate should miss")
	}
}

func TestContestStatusAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	c := Contest{StartTime: start, EndTime: start.Add(2 * time.Hour)}
	tests := []struct {
		at   time.Time
		want ContestStatus
	}{
		{start.Add(-time.Second), ContestUpcoming},
		{start, ContestOngoing},
		{start.Add(2*time.Hour - time.Nanosecond), ContestOngoing},
		{start.Add(2 * time.Hour), ContestEnded},
	}
	for _, tt := range tests {
		if got := c.StatusAt(tt.at); got != tt.want {
			t.Errorf("StatusAt(%v) = %v, want %v", tt.at, got, tt.want)
		}
	}
}
