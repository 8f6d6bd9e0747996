package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shanshuishenzhen/skillup-rbac/logger"
)

// ============================================================================
// AUTHORIZATION GATE
// ============================================================================

const (
	defaultCacheTTL    = 5 * time.Minute
	defaultAuditBuffer = 1024
)

// Gate is the façade the rest of the platform calls. It orchestrates cache
// lookup, store fetch on miss, inheritance resolution, policy evaluation and
// audit emission. One Gate is constructed per process and shares only the
// injected cache across concurrent Authorize calls.
type Gate struct {
	store    PermissionStore
	cache    Cache
	audit    AuditSink
	registry ResourceRegistry
	log      logger.Logger
	cacheTTL time.Duration

	auditCh   chan AccessRecord
	auditDone chan struct{}
	closeOnce sync.Once
}

// Option configures a Gate.
type Option func(*Gate)

// WithRegistry installs a resource policy registry; without one, every
// (resource, action) pair is accepted as recognized.
func WithRegistry(r ResourceRegistry) Option { return func(g *Gate) { g.registry = r } }

// WithLogger replaces the default structured logger.
func WithLogger(l logger.Logger) Option { return func(g *Gate) { g.log = l } }

// WithCacheTTL overrides the permission cache TTL.
func WithCacheTTL(ttl time.Duration) Option { return func(g *Gate) { g.cacheTTL = ttl } }

// WithAuditBuffer sizes the async audit channel.
func WithAuditBuffer(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.auditCh = make(chan AccessRecord, n)
		}
	}
}

// NewGate constructs a Gate. A nil cache falls back to an in-process
// MemoryCache; a nil audit sink disables audit persistence (decisions are
// still logged).
func NewGate(store PermissionStore, cache Cache, audit AuditSink, opts ...Option) *Gate {
	g := &Gate{
		store:    store,
		cache:    cache,
		audit:    audit,
		log:      logger.NewPhusluLogger(),
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cache == nil {
		g.cache = NewMemoryCache()
	}
	if g.auditCh == nil {
		g.auditCh = make(chan AccessRecord, defaultAuditBuffer)
	}
	g.auditDone = make(chan struct{})
	go g.auditWorker()
	return g
}

func (g *Gate) auditWorker() {
	defer close(g.auditDone)
	bg := context.Background()
	for record := range g.auditCh {
		if g.audit == nil {
			continue
		}
		if err := g.audit.LogAccessAttempt(bg, &record); err != nil {
			g.log.Error("audit sink write failed", "record", record.ID, "error", err.Error())
		}
	}
}

// Close drains and stops the audit worker.
func (g *Gate) Close() {
	g.closeOnce.Do(func() {
		close(g.auditCh)
		<-g.auditDone
	})
}

// Authorize decides whether the principal in the context may perform the
// requested action. Recoverable infrastructure failures (cache backend) are
// handled internally; a non-nil error means the decision could not be
// determined and wraps ErrPermissionCheck — it is never a disguised deny.
func (g *Gate) Authorize(ctx context.Context, ac *AccessContext) (*Decision, error) {
	if ac == nil || ac.Principal == nil || ac.Principal.ID == "" {
		dec := &Decision{Effect: EffectDeny, Reason: ReasonUnauthenticated}
		g.emitAudit(ac, dec)
		return dec, nil
	}

	if g.registry != nil && !g.registry.ValidAction(ac.Resource, ac.Action) {
		dec := &Decision{Effect: EffectDeny, Reason: ReasonInvalidResourceAction}
		g.emitAudit(ac, dec)
		return dec, nil
	}

	// Suspension denies before any store or cache I/O.
	switch ac.Principal.Status {
	case StatusActive:
	case StatusSuspended:
		dec := &Decision{Effect: EffectDeny, Reason: ReasonAccountSuspended}
		g.emitAudit(ac, dec)
		return dec, nil
	default:
		dec := &Decision{Effect: EffectDeny, Reason: ReasonAccountInactive}
		g.emitAudit(ac, dec)
		return dec, nil
	}

	set, err := g.effectiveSet(ctx, ac)
	if err != nil {
		if errors.Is(err, ErrInvalidRole) {
			dec := &Decision{Effect: EffectDeny, Reason: ReasonInvalidRole}
			g.emitAudit(ac, dec)
			return dec, nil
		}
		g.log.Error("permission check failed",
			"principal", ac.Principal.ID, "resource", ac.Resource,
			"action", ac.Action, "error", err.Error())
		return nil, fmt.Errorf("%w: %w", ErrPermissionCheck, err)
	}

	dec := Decide(set, ac)
	if dec.Reason == ReasonInsufficientPerms && ac.AnomalySignal {
		dec.Suspicious = true
	}
	g.emitAudit(ac, &dec)
	return &dec, nil
}

// Invalidate evicts the cached permission set for a principal. The external
// administration subsystem must call this on every role or assignment
// mutation; the engine does not self-detect such changes.
func (g *Gate) Invalidate(ctx context.Context, principalID string) error {
	return g.cache.Invalidate(ctx, principalID)
}

// InvalidateMany evicts cached permission sets for several principals.
func (g *Gate) InvalidateMany(ctx context.Context, principalIDs []string) error {
	return g.cache.InvalidateMany(ctx, principalIDs)
}

// effectiveSet returns the expanded permission set for the principal, from
// cache when possible. A cache backend failure degrades to a direct store
// fetch with a logged warning and skips the writeback.
func (g *Gate) effectiveSet(ctx context.Context, ac *AccessContext) (*PermissionSet, error) {
	p := ac.Principal
	degraded := false
	entry, err := g.cache.Get(ctx, p.ID, ac.TenantID)
	if err != nil {
		degraded = true
		g.log.Error("permission cache unavailable, degrading to store fetch",
			"principal", p.ID, "error", err.Error())
	} else if entry != nil && entry.Set != nil {
		return entry.Set, nil
	}

	set, err := ExpandRoles(ctx, g.store, p)
	if err != nil {
		return nil, err
	}
	if g.registry != nil {
		for _, roleID := range set.Roles {
			for _, dp := range g.registry.DefaultsFor(roleID) {
				set.Permissions = append(set.Permissions, EffectivePermission{
					Permission: dp,
					RoleID:     roleID,
				})
			}
		}
	}

	if !degraded {
		if err := g.cache.Put(ctx, p.ID, ac.TenantID, set, g.cacheTTL); err != nil {
			g.log.Error("permission cache writeback failed", "principal", p.ID, "error", err.Error())
		}
	}
	return set, nil
}

// emitAudit logs the decision and queues a record for the audit sink without
// blocking the request path. Records are dropped when the channel is full.
func (g *Gate) emitAudit(ac *AccessContext, dec *Decision) {
	record := AccessRecord{
		ID:            fmt.Sprintf("%d", time.Now().UnixNano()),
		Timestamp:     time.Now(),
		Effect:        dec.Effect,
		Reason:        dec.Reason,
		MatchedBy:     dec.MatchedBy,
		Suspicious:    dec.Suspicious,
		SecurityAlert: dec.Suspicious || dec.Reason == ReasonInvalidRole,
	}
	if ac != nil {
		record.Resource = ac.Resource
		record.Action = ac.Action
		record.ResourceID = ac.ResourceID
		record.TenantID = ac.TenantID
		record.IP = ac.IP
		record.SessionID = ac.SessionID
		if ac.Principal != nil {
			record.PrincipalID = ac.Principal.ID
		}
	}

	g.log.Info("access decision",
		"principal", record.PrincipalID,
		"tenant", record.TenantID,
		"resource", record.Resource,
		"action", record.Action,
		"effect", string(record.Effect),
		"reason", record.Reason,
		"matched_by", record.MatchedBy,
		"security_alert", record.SecurityAlert)

	select {
	case g.auditCh <- record:
	default:
		// drop instead of blocking the request path
	}
}
