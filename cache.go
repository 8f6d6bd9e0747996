package rbac

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// PERMISSION CACHE
// ============================================================================

// Cache memoizes expanded permission sets per (principal, tenant). Entries
// are immutable snapshots: concurrent writes for the same key are last-write-
// wins. Get returns (nil, nil) on a miss; a non-nil error signals a backend
// failure, which the gate degrades around rather than surfacing.
//
// Invalidation evicts rather than updates, so an administrative mutation
// followed by Invalidate is guaranteed to be observed by the next Authorize
// for that principal.
type Cache interface {
	Get(ctx context.Context, principalID, tenantID string) (*Entry, error)
	Put(ctx context.Context, principalID, tenantID string, set *PermissionSet, ttl time.Duration) error
	Invalidate(ctx context.Context, principalID string) error
	InvalidateMany(ctx context.Context, principalIDs []string) error
}

const cacheKeyPrefix = "rbac:permissions:"

// CacheKey builds the canonical cache key for a principal, suffixed by the
// tenant when cross-tenant isolation is enforced at the cache layer.
func CacheKey(principalID, tenantID string) string {
	if tenantID == "" {
		return cacheKeyPrefix + principalID
	}
	return cacheKeyPrefix + principalID + ":" + tenantID
}

// MemoryCache is the default in-process cache: a mutex-guarded map of
// immutable entries with TTL expiry and per-principal version counters.
// An entry written before the principal's last invalidation carries a stale
// version and is treated as a miss.
type MemoryCache struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	versions map[string]uint64
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:  make(map[string]*Entry),
		versions: make(map[string]uint64),
	}
}

func (c *MemoryCache) Get(_ context.Context, principalID, tenantID string) (*Entry, error) {
	key := CacheKey(principalID, tenantID)
	c.mu.RLock()
	entry, ok := c.entries[key]
	version := c.versions[principalID]
	c.mu.RUnlock()
	if !ok || entry.Version != version {
		return nil, nil
	}
	if entry.Expired(time.Now()) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, nil
	}
	return entry, nil
}

func (c *MemoryCache) Put(_ context.Context, principalID, tenantID string, set *PermissionSet, ttl time.Duration) error {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[CacheKey(principalID, tenantID)] = &Entry{
		PrincipalID: principalID,
		TenantID:    tenantID,
		Set:         set,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Version:     c.versions[principalID],
	}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, principalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(principalID)
	return nil
}

func (c *MemoryCache) InvalidateMany(_ context.Context, principalIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range principalIDs {
		c.invalidateLocked(id)
	}
	return nil
}

func (c *MemoryCache) invalidateLocked(principalID string) {
	c.versions[principalID]++
	base := CacheKey(principalID, "")
	for k := range c.entries {
		if k == base || (strings.HasPrefix(k, base) && k[len(base)] == ':') {
			delete(c.entries, k)
		}
	}
}
