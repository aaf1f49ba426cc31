package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheRoundTripAndExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, GroupsKey(7), []int64{1, 5}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var groups []int64
	ok, err := c.Get(ctx, GroupsKey(7), &groups)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(groups) != 2 || groups[1] != 5 {
		t.Fatalf("unexpected groups %v", groups)
	}

	now = now.Add(time.Minute)
	ok, _ = c.Get(ctx, GroupsKey(7), &groups)
	if ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	_ = c.Set(ctx, CounterOpenKey(1), true, 0)
	_ = c.Delete(ctx, CounterOpenKey(1), CounterOpenKey(2))

	var open bool
	if ok, _ := c.Get(ctx, CounterOpenKey(1), &open); ok {
		t.Fatalf("expected entry to be deleted")
	}
}

func TestNoopCacheNeverHits(t *testing.T) {
	var v int
	ok, err := NoopCache{}.Get(context.Background(), "k", &v)
	if ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}
