package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// UnknownCodeCache remembers codes that recently missed the session store so
// repeated guesses are answered without a store round trip. Entries are keyed by
// a digest of the code, never the code itself.
type UnknownCodeCache interface {
	Seen(ctx context.Context, code string) (bool, error)
	Remember(ctx context.Context, code string, ttl time.Duration) error
	Forget(ctx context.Context, code string) error
}

type NoopUnknownCodeCache struct{}

func NewNoopUnknownCodeCache() *NoopUnknownCodeCache { return &NoopUnknownCodeCache{} }

func (NoopUnknownCodeCache) Seen(context.Context, string) (bool, error) { return false, nil }

func (NoopUnknownCodeCache) Remember(context.Context, string, time.Duration) error { return nil }

func (NoopUnknownCodeCache) Forget(context.Context, string) error { return nil }

// InMemoryUnknownCodeCache expires entries lazily; writes purge whatever has
// already expired.
type InMemoryUnknownCodeCache struct {
	entries *ttlcache.Cache[string, struct{}]
}

func NewInMemoryUnknownCodeCache() *InMemoryUnknownCodeCache {
	return &InMemoryUnknownCodeCache{
		entries: ttlcache.New(ttlcache.WithDisableTouchOnHit[string, struct{}]()),
	}
}

func (c *InMemoryUnknownCodeCache) Seen(_ context.Context, code string) (bool, error) {
	return c.entries.Get(codeDigest(code)) != nil, nil
}

func (c *InMemoryUnknownCodeCache) Remember(_ context.Context, code string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.entries.DeleteExpired()
	c.entries.Set(codeDigest(code), struct{}{}, ttl)
	return nil
}

func (c *InMemoryUnknownCodeCache) Forget(_ context.Context, code string) error {
	c.entries.Delete(codeDigest(code))
	return nil
}

func codeDigest(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
