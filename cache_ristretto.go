package rbac

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoCache is a Cache backed by a ristretto admission-based cache,
// suitable for deployments with many principals where the default map cache
// would grow unbounded. Because ristretto cannot enumerate keys, invalidation
// relies entirely on the per-principal version counters: entries written
// before the last invalidation fail the version check and read as misses.
type RistrettoCache struct {
	cache *ristretto.Cache

	mu       sync.Mutex
	versions map[string]uint64
}

// NewRistrettoCache builds a RistrettoCache. Zero config values fall back to
// defaults sized for roughly 100k cached principals.
func NewRistrettoCache(numCounters, maxCost, bufferItems int64) (*RistrettoCache, error) {
	if numCounters <= 0 {
		numCounters = 1_000_000
	}
	if maxCost <= 0 {
		maxCost = 100_000
	}
	if bufferItems <= 0 {
		bufferItems = 64
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoCache{cache: cache, versions: make(map[string]uint64)}, nil
}

func (c *RistrettoCache) version(principalID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[principalID]
}

func (c *RistrettoCache) Get(_ context.Context, principalID, tenantID string) (*Entry, error) {
	v, ok := c.cache.Get(CacheKey(principalID, tenantID))
	if !ok {
		return nil, nil
	}
	entry, ok := v.(*Entry)
	if !ok || entry.Version != c.version(principalID) || entry.Expired(time.Now()) {
		return nil, nil
	}
	return entry, nil
}

func (c *RistrettoCache) Put(_ context.Context, principalID, tenantID string, set *PermissionSet, ttl time.Duration) error {
	now := time.Now()
	entry := &Entry{
		PrincipalID: principalID,
		TenantID:    tenantID,
		Set:         set,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Version:     c.version(principalID),
	}
	c.cache.SetWithTTL(CacheKey(principalID, tenantID), entry, 1, ttl)
	return nil
}

func (c *RistrettoCache) Invalidate(_ context.Context, principalID string) error {
	c.mu.Lock()
	c.versions[principalID]++
	c.mu.Unlock()
	// best-effort eviction of the tenant-less key; tenant-suffixed entries
	// are caught by the version check
	c.cache.Del(CacheKey(principalID, ""))
	return nil
}

func (c *RistrettoCache) InvalidateMany(ctx context.Context, principalIDs []string) error {
	for _, id := range principalIDs {
		if err := c.Invalidate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until buffered writes are applied. Tests use it to make Put
// observable before asserting on hits.
func (c *RistrettoCache) Wait() { c.cache.Wait() }

// Close releases the underlying ristretto resources.
func (c *RistrettoCache) Close() { c.cache.Close() }
