package service

import (
	"context"
	"testing"
	"time"
)

func cacheDecision(t *testing.T, store GrantCacheStore, tenantID, contextID, subjectID string, allowed bool, ttl time.Duration) {
	t.Helper()
	ctx := context.Background()
	entry, err := store.Get(ctx, tenantID, contextID, subjectID)
	if err != nil {
		t.Fatalf("get before set: %v", err)
	}
	if err := store.Set(ctx, entry, allowed, ttl); err != nil {
		t.Fatalf("set: %v", err)
	}
}

func cached(t *testing.T, store GrantCacheStore, tenantID, contextID, subjectID string) GrantCacheEntry {
	t.Helper()
	entry, err := store.Get(context.Background(), tenantID, contextID, subjectID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return entry
}

func exerciseGrantCacheStore(t *testing.T, store GrantCacheStore) {
	t.Helper()
	ctx := context.Background()

	cacheDecision(t, store, "t1", "c1", "s1", true, time.Minute)
	cacheDecision(t, store, "t1", "c2", "s1", false, time.Minute)
	if e := cached(t, store, "t1", "c1", "s1"); !e.Found || !e.Allowed {
		t.Fatalf("expected cached allow, got %+v", e)
	}
	if e := cached(t, store, "t1", "c2", "s1"); !e.Found || e.Allowed {
		t.Fatalf("expected cached deny, got %+v", e)
	}
	if e := cached(t, store, "t2", "c1", "s1"); e.Found {
		t.Fatal("entries must be tenant scoped")
	}

	if err := store.InvalidateContext(ctx, "t1", "c1"); err != nil {
		t.Fatalf("invalidate context: %v", err)
	}
	if e := cached(t, store, "t1", "c1", "s1"); e.Found {
		t.Fatal("expected miss after context invalidation")
	}
	if e := cached(t, store, "t1", "c2", "s1"); !e.Found {
		t.Fatal("other contexts must survive context invalidation")
	}

	if err := store.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	if e := cached(t, store, "t1", "c2", "s1"); e.Found {
		t.Fatal("expected miss after global invalidation")
	}
}

// A decision read before an invalidation must not become visible after it.
func exerciseGrantCacheStaleWrite(t *testing.T, store GrantCacheStore) {
	t.Helper()
	ctx := context.Background()
	entry, err := store.Get(ctx, "t1", "c1", "s1")
	if err != nil || entry.Found {
		t.Fatalf("expected initial miss, got %+v err=%v", entry, err)
	}
	if err := store.InvalidateContext(ctx, "t1", "c1"); err != nil {
		t.Fatalf("invalidate context: %v", err)
	}
	if err := store.Set(ctx, entry, true, time.Minute); err != nil {
		t.Fatalf("late set: %v", err)
	}
	if e := cached(t, store, "t1", "c1", "s1"); e.Found {
		t.Fatalf("stale decision leaked past invalidation: %+v", e)
	}
	if err := store.Set(ctx, GrantCacheEntry{}, true, time.Minute); err != nil {
		t.Fatalf("set without key: %v", err)
	}
}

func TestInMemoryGrantCacheStoreStaleWrite(t *testing.T) {
	exerciseGrantCacheStaleWrite(t, NewInMemoryGrantCacheStore())
}

func TestRedisGrantCacheStoreStaleWrite(t *testing.T) {
	exerciseGrantCacheStaleWrite(t, NewRedisGrantCacheStore(newTestRedis(t).client, "grant_test"))
}

func TestInMemoryGrantCacheStore(t *testing.T) {
	exerciseGrantCacheStore(t, NewInMemoryGrantCacheStore())
}

func TestInMemoryGrantCacheStoreExpiry(t *testing.T) {
	store := NewInMemoryGrantCacheStore()
	cacheDecision(t, store, "t1", "c1", "s1", true, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if e := cached(t, store, "t1", "c1", "s1"); e.Found {
		t.Fatal("expected expired entry to miss")
	}
	cacheDecision(t, store, "t1", "c1", "s1", true, 0)
	if e := cached(t, store, "t1", "c1", "s1"); e.Found {
		t.Fatal("zero ttl must not cache")
	}
}

func TestRedisGrantCacheStore(t *testing.T) {
	client := newTestRedis(t).client
	exerciseGrantCacheStore(t, NewRedisGrantCacheStore(client, "grant_test"))
}

func TestRedisGrantCacheStoreMalformedEpochValue(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t).client
	store := NewRedisGrantCacheStore(client, "grant_test")

	if err := client.Set(ctx, store.globalEpochKey(), "NaN", time.Minute).Err(); err != nil {
		t.Fatalf("seed malformed epoch: %v", err)
	}
	if _, err := store.Get(ctx, "t1", "c1", "s1"); err == nil {
		t.Fatal("expected parse error for malformed epoch")
	}
}

func TestGrantCacheKeysDoNotCollide(t *testing.T) {
	a := buildGrantCacheKey(0, 0, "t:1", "c", "s")
	b := buildGrantCacheKey(0, 0, "t", "1:c", "s")
	if a == b {
		t.Fatalf("keys collide: %s", a)
	}
}
