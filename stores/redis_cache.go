package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	rbac "github.com/shanshuishenzhen/skillup-rbac"
)

// RedisCache is a shared permission cache for multi-instance deployments.
// Entries are stored as JSON under the standard cache key and expire through
// Redis TTLs, so invalidation on one instance is visible to all of them.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, principalID, tenantID string) (*rbac.Entry, error) {
	key := rbac.CacheKey(principalID, tenantID)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rbac.ErrCacheUnavailable, err)
	}
	var entry rbac.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Treat an undecodable entry as a miss; the next Put overwrites it.
		_ = c.client.Del(ctx, key).Err()
		return nil, nil
	}
	if entry.Expired(time.Now()) {
		_ = c.client.Del(ctx, key).Err()
		return nil, nil
	}
	return &entry, nil
}

func (c *RedisCache) Put(ctx context.Context, principalID, tenantID string, set *rbac.PermissionSet, ttl time.Duration) error {
	now := time.Now()
	entry := rbac.Entry{
		PrincipalID: principalID,
		TenantID:    tenantID,
		Set:         set,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	raw, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("%w: %v", rbac.ErrCacheUnavailable, err)
	}
	if err := c.client.Set(ctx, rbac.CacheKey(principalID, tenantID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", rbac.ErrCacheUnavailable, err)
	}
	return nil
}

// Invalidate evicts the tenant-less entry plus every tenant-scoped entry for
// the principal.
func (c *RedisCache) Invalidate(ctx context.Context, principalID string) error {
	base := rbac.CacheKey(principalID, "")
	if err := c.client.Del(ctx, base).Err(); err != nil {
		return fmt.Errorf("%w: %v", rbac.ErrCacheUnavailable, err)
	}
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, base+":*", 100).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", rbac.ErrCacheUnavailable, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("%w: %v", rbac.ErrCacheUnavailable, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *RedisCache) InvalidateMany(ctx context.Context, principalIDs []string) error {
	for _, id := range principalIDs {
		if err := c.Invalidate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

var _ rbac.Cache = (*RedisCache)(nil)
