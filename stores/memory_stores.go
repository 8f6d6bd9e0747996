package stores

import (
	"context"
	"fmt"
	"sync"
	"time"

	rbac "github.com/shanshuishenzhen/skillup-rbac"
)

// ============================================================================
// IN-MEMORY STORES (tests, examples, config-seeded deployments)
// ============================================================================

// InvalidateFunc is called after a mutation with the principals whose cached
// permission sets must be evicted. Wire it to Gate.InvalidateMany.
type InvalidateFunc func(ctx context.Context, principalIDs []string) error

// MemoryPermissionStore holds roles and principal assignments in memory.
type MemoryPermissionStore struct {
	mu          sync.RWMutex
	roles       map[string]*rbac.Role
	assignments map[string][]string // principalID -> role IDs
	invalidate  InvalidateFunc
	unavailable bool
}

func NewMemoryPermissionStore() *MemoryPermissionStore {
	return &MemoryPermissionStore{
		roles:       make(map[string]*rbac.Role),
		assignments: make(map[string][]string),
	}
}

// FromConfig seeds a store with the roles and assignments of a config.
func FromConfig(cfg *rbac.Config) *MemoryPermissionStore {
	s := NewMemoryPermissionStore()
	for _, r := range cfg.Roles {
		s.roles[r.ID] = r
	}
	for _, a := range cfg.Assignments {
		s.assignments[a.PrincipalID] = append([]string(nil), a.Roles...)
	}
	return s
}

// OnMutation installs the cache invalidation hook called after role or
// assignment changes.
func (s *MemoryPermissionStore) OnMutation(fn InvalidateFunc) { s.invalidate = fn }

// SetUnavailable simulates connectivity loss; reads fail with
// ErrStoreUnavailable until cleared.
func (s *MemoryPermissionStore) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

func (s *MemoryPermissionStore) GetRolesForUser(_ context.Context, userID string) ([]*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, rbac.ErrStoreUnavailable
	}
	ids := s.assignments[userID]
	out := make([]*rbac.Role, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.roles[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryPermissionStore) GetRoleByID(_ context.Context, roleID string) (*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, rbac.ErrStoreUnavailable
	}
	r, ok := s.roles[roleID]
	if !ok {
		return nil, fmt.Errorf("role not found: %s", roleID)
	}
	return r, nil
}

// UpsertRole creates or replaces a role and invalidates every principal
// assigned to it.
func (s *MemoryPermissionStore) UpsertRole(ctx context.Context, r *rbac.Role) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.roles[r.ID] = r
	affected := s.principalsWithRoleLocked(r.ID)
	s.mu.Unlock()
	return s.notify(ctx, affected)
}

// DeleteRole removes a role and invalidates every principal assigned to it.
func (s *MemoryPermissionStore) DeleteRole(ctx context.Context, roleID string) error {
	s.mu.Lock()
	affected := s.principalsWithRoleLocked(roleID)
	delete(s.roles, roleID)
	s.mu.Unlock()
	return s.notify(ctx, affected)
}

// SetAssignments replaces a principal's role assignments.
func (s *MemoryPermissionStore) SetAssignments(ctx context.Context, principalID string, roleIDs []string) error {
	s.mu.Lock()
	s.assignments[principalID] = append([]string(nil), roleIDs...)
	s.mu.Unlock()
	return s.notify(ctx, []string{principalID})
}

func (s *MemoryPermissionStore) principalsWithRoleLocked(roleID string) []string {
	out := make([]string, 0)
	for principal, ids := range s.assignments {
		for _, id := range ids {
			if id == roleID {
				out = append(out, principal)
				break
			}
		}
	}
	return out
}

func (s *MemoryPermissionStore) notify(ctx context.Context, principals []string) error {
	if s.invalidate == nil || len(principals) == 0 {
		return nil
	}
	return s.invalidate(ctx, principals)
}

// MemoryAuditSink accumulates access records in memory.
type MemoryAuditSink struct {
	mu      sync.RWMutex
	records []*rbac.AccessRecord
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{records: make([]*rbac.AccessRecord, 0)}
}

func (s *MemoryAuditSink) LogAccessAttempt(_ context.Context, record *rbac.AccessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a snapshot of the accumulated records.
func (s *MemoryAuditSink) Records() []*rbac.AccessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.AccessRecord, len(s.records))
	copy(out, s.records)
	return out
}

// WaitFor polls until at least n records arrived or the timeout elapses,
// absorbing the gate's asynchronous audit channel in tests.
func (s *MemoryAuditSink) WaitFor(n int, timeout time.Duration) []*rbac.AccessRecord {
	deadline := time.Now().Add(timeout)
	for {
		if recs := s.Records(); len(recs) >= n || time.Now().After(deadline) {
			return recs
		}
		time.Sleep(time.Millisecond)
	}
}
