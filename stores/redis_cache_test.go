package stores

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	rbac "github.com/shanshuishenzhen/skillup-rbac"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client), mr
}

func TestRedisCacheRoundtrip(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	if entry, err := c.Get(ctx, "u1", "t1"); err != nil || entry != nil {
		t.Fatalf("cold cache: entry=%v err=%v", entry, err)
	}

	set := &rbac.PermissionSet{PrincipalID: "u1", Roles: []string{"student"}, Permissions: []rbac.EffectivePermission{
		{Permission: rbac.Permission{ID: "p", Resource: "course", Action: "view", Effect: rbac.EffectAllow}, RoleID: "student"},
	}}
	if err := c.Put(ctx, "u1", "t1", set, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	entry, err := c.Get(ctx, "u1", "t1")
	if err != nil || entry == nil {
		t.Fatalf("get: entry=%v err=%v", entry, err)
	}
	if entry.Set.PrincipalID != "u1" || len(entry.Set.Permissions) != 1 {
		t.Fatalf("snapshot did not survive serialization: %+v", entry.Set)
	}
	if entry.Set.Permissions[0].RoleID != "student" {
		t.Fatalf("role attribution lost: %+v", entry.Set.Permissions[0])
	}
}

func TestRedisCacheTTLExpiry(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "u1", "", &rbac.PermissionSet{PrincipalID: "u1"}, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if entry, err := c.Get(ctx, "u1", ""); err != nil || entry != nil {
		t.Fatalf("expired entry must read as a miss: entry=%v err=%v", entry, err)
	}
}

func TestRedisCacheInvalidate(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()
	set := &rbac.PermissionSet{PrincipalID: "u1"}

	_ = c.Put(ctx, "u1", "", set, time.Minute)
	_ = c.Put(ctx, "u1", "t1", set, time.Minute)
	_ = c.Put(ctx, "u1", "t2", set, time.Minute)
	_ = c.Put(ctx, "u2", "", set, time.Minute)

	if err := c.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	for _, tenant := range []string{"", "t1", "t2"} {
		if e, _ := c.Get(ctx, "u1", tenant); e != nil {
			t.Fatalf("u1 tenant %q still cached", tenant)
		}
	}
	if e, _ := c.Get(ctx, "u2", ""); e == nil {
		t.Fatalf("unrelated principal evicted")
	}
}

func TestRedisCacheUnavailable(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	mr.Close()

	if _, err := c.Get(ctx, "u1", ""); err == nil {
		t.Fatalf("backend loss must surface ErrCacheUnavailable")
	}
	if err := c.Put(ctx, "u1", "", &rbac.PermissionSet{}, time.Minute); err == nil {
		t.Fatalf("put against a dead backend must error")
	}
}

func TestRedisCacheCorruptEntryReadsAsMiss(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	if err := mr.Set(rbac.CacheKey("u1", ""), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	entry, err := c.Get(ctx, "u1", "")
	if err != nil || entry != nil {
		t.Fatalf("corrupt entry: entry=%v err=%v", entry, err)
	}
}
