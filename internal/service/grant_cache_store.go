package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// GrantCacheEntry is the result of a cache read. Its key is fixed to the
// epochs observed at read time, so a decision written back through Set after
// a concurrent invalidation lands under a key no later read will use.
type GrantCacheEntry struct {
	Allowed bool
	Found   bool
	key     string
}

// GrantCacheStore caches issuer grant decisions. Invalidation bumps an epoch
// that is part of every key, so stale entries are never read again and simply
// age out.
type GrantCacheStore interface {
	Get(ctx context.Context, tenantID, contextID, subjectID string) (GrantCacheEntry, error)
	// Set stores allowed under entry's key. An entry from a failed Get has no
	// key and is not stored.
	Set(ctx context.Context, entry GrantCacheEntry, allowed bool, ttl time.Duration) error
	InvalidateContext(ctx context.Context, tenantID, contextID string) error
	InvalidateAll(ctx context.Context) error
}

type NoopGrantCacheStore struct{}

func NewNoopGrantCacheStore() *NoopGrantCacheStore {
	return &NoopGrantCacheStore{}
}

func (NoopGrantCacheStore) Get(context.Context, string, string, string) (GrantCacheEntry, error) {
	return GrantCacheEntry{}, nil
}

func (NoopGrantCacheStore) Set(context.Context, GrantCacheEntry, bool, time.Duration) error {
	return nil
}

func (NoopGrantCacheStore) InvalidateContext(context.Context, string, string) error { return nil }

func (NoopGrantCacheStore) InvalidateAll(context.Context) error { return nil }

type InMemoryGrantCacheStore struct {
	mu           sync.RWMutex
	data         *ttlcache.Cache[string, bool]
	globalEpoch  uint64
	contextEpoch map[string]uint64
}

func NewInMemoryGrantCacheStore() *InMemoryGrantCacheStore {
	return &InMemoryGrantCacheStore{
		data:         ttlcache.New(ttlcache.WithDisableTouchOnHit[string, bool]()),
		contextEpoch: make(map[string]uint64),
	}
}

func (s *InMemoryGrantCacheStore) Get(_ context.Context, tenantID, contextID, subjectID string) (GrantCacheEntry, error) {
	s.mu.RLock()
	entry := GrantCacheEntry{key: s.cacheKeyLocked(tenantID, contextID, subjectID)}
	s.mu.RUnlock()
	if item := s.data.Get(entry.key); item != nil {
		entry.Allowed, entry.Found = item.Value(), true
	}
	return entry, nil
}

func (s *InMemoryGrantCacheStore) Set(_ context.Context, entry GrantCacheEntry, allowed bool, ttl time.Duration) error {
	if ttl <= 0 || entry.key == "" {
		return nil
	}
	s.data.DeleteExpired()
	s.data.Set(entry.key, allowed, ttl)
	return nil
}

func (s *InMemoryGrantCacheStore) InvalidateContext(_ context.Context, tenantID, contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextEpoch[grantScope(tenantID, contextID)]++
	return nil
}

func (s *InMemoryGrantCacheStore) InvalidateAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalEpoch++
	return nil
}

func (s *InMemoryGrantCacheStore) cacheKeyLocked(tenantID, contextID, subjectID string) string {
	return buildGrantCacheKey(s.globalEpoch, s.contextEpoch[grantScope(tenantID, contextID)], tenantID, contextID, subjectID)
}

func grantScope(tenantID, contextID string) string {
	return fmt.Sprintf("%d:%s:%s", len(tenantID), tenantID, contextID)
}

func buildGrantCacheKey(globalEpoch, contextEpoch uint64, tenantID, contextID, subjectID string) string {
	return fmt.Sprintf("grant:g%d:c%d:%s:s:%s", globalEpoch, contextEpoch, grantScope(tenantID, contextID), subjectID)
}
