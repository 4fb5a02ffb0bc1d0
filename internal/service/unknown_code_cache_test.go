package service

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestInMemoryUnknownCodeCacheRememberForget(t *testing.T) {
	cache := NewInMemoryUnknownCodeCache()
	ctx := context.Background()

	if err := cache.Remember(ctx, "guess-1", time.Minute); err != nil {
		t.Fatalf("remember: %v", err)
	}
	seen, err := cache.Seen(ctx, "guess-1")
	if err != nil || !seen {
		t.Fatalf("expected hit, got seen=%v err=%v", seen, err)
	}
	if seen, _ := cache.Seen(ctx, "guess-2"); seen {
		t.Fatal("expected miss for other code")
	}
	if err := cache.Forget(ctx, "guess-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if seen, _ := cache.Seen(ctx, "guess-1"); seen {
		t.Fatal("expected miss after forget")
	}
}

func TestInMemoryUnknownCodeCacheExpiry(t *testing.T) {
	cache := NewInMemoryUnknownCodeCache()
	ctx := context.Background()
	if err := cache.Remember(ctx, "guess", 25*time.Millisecond); err != nil {
		t.Fatalf("remember: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if seen, _ := cache.Seen(ctx, "guess"); seen {
		t.Fatal("expected entry to expire")
	}
	if err := cache.Remember(ctx, "ignored", 0); err != nil {
		t.Fatalf("remember with zero ttl: %v", err)
	}
	if seen, _ := cache.Seen(ctx, "ignored"); seen {
		t.Fatal("zero ttl should not cache")
	}
}

func TestNoopUnknownCodeCacheAlwaysMisses(t *testing.T) {
	cache := NewNoopUnknownCodeCache()
	ctx := context.Background()
	_ = cache.Remember(ctx, "guess", time.Minute)
	if seen, err := cache.Seen(ctx, "guess"); err != nil || seen {
		t.Fatalf("expected miss, got seen=%v err=%v", seen, err)
	}
}

func TestRedisUnknownCodeCacheStoresDigestOnly(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	server, client := rdb.server, rdb.client
	cache := NewRedisUnknownCodeCache(client, "unknown_test")

	if err := cache.Remember(ctx, "raw-secret-code", 2*time.Second); err != nil {
		t.Fatalf("remember: %v", err)
	}
	for _, key := range server.Keys() {
		if strings.Contains(key, "raw-secret-code") {
			t.Fatalf("raw code leaked into key %q", key)
		}
	}
	if seen, err := cache.Seen(ctx, "raw-secret-code"); err != nil || !seen {
		t.Fatalf("expected hit, got seen=%v err=%v", seen, err)
	}

	server.FastForward(3 * time.Second)
	if seen, _ := cache.Seen(ctx, "raw-secret-code"); seen {
		t.Fatal("expected miss after ttl")
	}

	_ = cache.Remember(ctx, "raw-secret-code", time.Minute)
	if err := cache.Forget(ctx, "raw-secret-code"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if seen, _ := cache.Seen(ctx, "raw-secret-code"); seen {
		t.Fatal("expected miss after forget")
	}
}

func TestRedisUnknownCodeCacheNilClient(t *testing.T) {
	cache := NewRedisUnknownCodeCache(nil, "")
	ctx := context.Background()
	if err := cache.Remember(ctx, "x", time.Minute); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if seen, err := cache.Seen(ctx, "x"); err != nil || seen {
		t.Fatalf("nil client should miss: seen=%v err=%v", seen, err)
	}
}
