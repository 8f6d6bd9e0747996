package rbac

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shanshuishenzhen/skillup-rbac/logger"
)

// countingStore wraps a fakeStore and counts expansion fetches.
type countingStore struct {
	*fakeStore
	fetches atomic.Int64
}

func (s *countingStore) GetRolesForUser(ctx context.Context, userID string) ([]*Role, error) {
	s.fetches.Add(1)
	return s.fakeStore.GetRolesForUser(ctx, userID)
}

// failingCache simulates a cache backend outage.
type failingCache struct{}

func (failingCache) Get(context.Context, string, string) (*Entry, error) {
	return nil, ErrCacheUnavailable
}
func (failingCache) Put(context.Context, string, string, *PermissionSet, time.Duration) error {
	return ErrCacheUnavailable
}
func (failingCache) Invalidate(context.Context, string) error       { return ErrCacheUnavailable }
func (failingCache) InvalidateMany(context.Context, []string) error { return ErrCacheUnavailable }

// recordingSink collects audit records synchronously.
type recordingSink struct {
	mu      sync.Mutex
	records []*AccessRecord
}

func (s *recordingSink) LogAccessAttempt(_ context.Context, r *AccessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *recordingSink) waitFor(n int, timeout time.Duration) []*AccessRecord {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		recs := append([]*AccessRecord(nil), s.records...)
		s.mu.Unlock()
		if len(recs) >= n || time.Now().After(deadline) {
			return recs
		}
		time.Sleep(time.Millisecond)
	}
}

func examStore() *fakeStore {
	s := newFakeStore(
		&Role{ID: "student", Name: "Student", TenantID: "school-1", Status: StatusActive, Permissions: []Permission{
			{ID: "p-view", Resource: "course", Action: "view", Effect: EffectAllow, Priority: 1},
			{ID: "p-take", Resource: "exam", Action: "take", Effect: EffectAllow, Priority: 1},
		}},
		&Role{ID: "teacher", Name: "Teacher", TenantID: "school-1", ParentID: "student", Status: StatusActive, Permissions: []Permission{
			{ID: "p-edit-own", Resource: "course", Action: "edit", Effect: EffectAllow, Priority: 5, Conditions: []Condition{
				{Field: "createdBy", Operator: OpEq, Value: "{{user.id}}"},
			}},
			{ID: "p-grade", Resource: "exam", Action: "grade", Effect: EffectAllow, Priority: 5},
		}},
		&Role{ID: "proctor", Name: "Proctor", TenantID: "school-1", Status: StatusActive, Permissions: []Permission{
			{ID: "p-no-retake", Resource: "exam", Action: "take", Effect: EffectDeny, Priority: 10, Conditions: []Condition{
				{Field: "attempts", Operator: OpGte, Value: 3},
			}},
		}},
		&Role{ID: "admin", Name: "Admin", Status: StatusActive, SuperAdmin: true},
	)
	s.assignments["alice"] = []string{"teacher"}
	s.assignments["bob"] = []string{"student", "proctor"}
	s.assignments["root"] = []string{"admin"}
	return s
}

func newTestGate(store PermissionStore, cache Cache, audit AuditSink, opts ...Option) *Gate {
	opts = append([]Option{WithLogger(logger.NewNullLogger())}, opts...)
	return NewGate(store, cache, audit, opts...)
}

func TestGateTeacherEditsOwnCourse(t *testing.T) {
	g := newTestGate(examStore(), nil, nil)
	defer g.Close()
	ctx := context.Background()

	own := &AccessContext{
		Principal:     &Principal{ID: "alice", TenantID: "school-1", Status: StatusActive},
		Resource:      "course",
		Action:        "edit",
		ResourceAttrs: map[string]any{"createdBy": "alice"},
	}
	dec, err := g.Authorize(ctx, own)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed() || dec.Reason != ReasonPermissionGranted || dec.MatchedBy != "p-edit-own" {
		t.Fatalf("own course edit: %+v", dec)
	}

	foreign := &AccessContext{
		Principal:     &Principal{ID: "alice", TenantID: "school-1", Status: StatusActive},
		Resource:      "course",
		Action:        "edit",
		ResourceAttrs: map[string]any{"createdBy": "carol"},
	}
	dec, err = g.Authorize(ctx, foreign)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed() || dec.Reason != ReasonNoMatchingPermission {
		t.Fatalf("foreign course edit: %+v", dec)
	}
}

func TestGateInheritedPermission(t *testing.T) {
	g := newTestGate(examStore(), nil, nil)
	defer g.Close()

	// teacher inherits course view from student
	dec, err := g.Authorize(context.Background(), &AccessContext{
		Principal: &Principal{ID: "alice", Status: StatusActive},
		Resource:  "course",
		Action:    "view",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed() || dec.MatchedBy != "p-view" {
		t.Fatalf("inherited view: %+v", dec)
	}
}

func TestGateDenyOverridesAllow(t *testing.T) {
	g := newTestGate(examStore(), nil, nil)
	defer g.Close()
	ctx := context.Background()

	// bob holds both the student allow and the proctor's conditional deny
	over := &AccessContext{
		Principal:     &Principal{ID: "bob", Status: StatusActive},
		Resource:      "exam",
		Action:        "take",
		ResourceAttrs: map[string]any{"attempts": 3},
	}
	dec, err := g.Authorize(ctx, over)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed() || dec.Reason != ReasonInsufficientPerms || dec.MatchedBy != "p-no-retake" {
		t.Fatalf("attempt limit deny: %+v", dec)
	}

	under := &AccessContext{
		Principal:     &Principal{ID: "bob", Status: StatusActive},
		Resource:      "exam",
		Action:        "take",
		ResourceAttrs: map[string]any{"attempts": 1},
	}
	dec, err = g.Authorize(ctx, under)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed() {
		t.Fatalf("under the attempt limit: %+v", dec)
	}
}

func TestGateSuperAdminBypass(t *testing.T) {
	g := newTestGate(examStore(), nil, nil)
	defer g.Close()

	dec, err := g.Authorize(context.Background(), &AccessContext{
		Principal: &Principal{ID: "root", Status: StatusActive},
		Resource:  "platform.settings",
		Action:    "wipe",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed() || dec.Reason != ReasonAdminRole || dec.MatchedBy != "admin" {
		t.Fatalf("admin bypass: %+v", dec)
	}
}

func TestGateUnauthenticated(t *testing.T) {
	g := newTestGate(examStore(), nil, nil)
	defer g.Close()

	dec, err := g.Authorize(context.Background(), &AccessContext{Resource: "course", Action: "view"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed() || dec.Reason != ReasonUnauthenticated {
		t.Fatalf("missing principal: %+v", dec)
	}
}

func TestGateSuspendedSkipsStore(t *testing.T) {
	store := &countingStore{fakeStore: examStore()}
	g := newTestGate(store, nil, nil)
	defer g.Close()

	dec, err := g.Authorize(context.Background(), &AccessContext{
		Principal: &Principal{ID: "alice", Status: StatusSuspended},
		Resource:  "course",
		Action:    "view",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed() || dec.Reason != ReasonAccountSuspended {
		t.Fatalf("suspended: %+v", dec)
	}
	if n := store.fetches.Load(); n != 0 {
		t.Fatalf("suspension must short-circuit before the store, fetched %d", n)
	}
}

func TestGateCachesPermissionSets(t *testing.T) {
	store := &countingStore{fakeStore: examStore()}
	g := newTestGate(store, nil, nil)
	defer g.Close()
	ctx := context.Background()

	ac := func() *AccessContext {
		return &AccessContext{
			Principal: &Principal{ID: "alice", Status: StatusActive},
			Resource:  "course",
			Action:    "view",
		}
	}
	for i := 0; i < 5; i++ {
		if _, err := g.Authorize(ctx, ac()); err != nil {
			t.Fatalf("authorize %d: %v", i, err)
		}
	}
	if n := store.fetches.Load(); n != 1 {
		t.Fatalf("store fetched %d times, want 1", n)
	}

	// invalidation forces a refetch on the next decision
	if err := g.Invalidate(ctx, "alice"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := g.Authorize(ctx, ac()); err != nil {
		t.Fatalf("authorize after invalidate: %v", err)
	}
	if n := store.fetches.Load(); n != 2 {
		t.Fatalf("store fetched %d times after invalidation, want 2", n)
	}
}

func TestGateInvalidationObservesRoleChange(t *testing.T) {
	store := examStore()
	g := newTestGate(store, nil, nil)
	defer g.Close()
	ctx := context.Background()

	ac := &AccessContext{
		Principal: &Principal{ID: "alice", Status: StatusActive},
		Resource:  "exam",
		Action:    "grade",
	}
	dec, err := g.Authorize(ctx, ac)
	if err != nil || !dec.Allowed() {
		t.Fatalf("initial grade: dec=%+v err=%v", dec, err)
	}

	// demote alice, then invalidate; the next decision must see the change
	store.assignments["alice"] = []string{"student"}
	if err := g.Invalidate(ctx, "alice"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	dec, err = g.Authorize(ctx, ac)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed() {
		t.Fatalf("demotion not observed after invalidation: %+v", dec)
	}
}

func TestGateDegradesOnCacheFailure(t *testing.T) {
	store := &countingStore{fakeStore: examStore()}
	g := newTestGate(store, failingCache{}, nil)
	defer g.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dec, err := g.Authorize(ctx, &AccessContext{
			Principal: &Principal{ID: "alice", Status: StatusActive},
			Resource:  "course",
			Action:    "view",
		})
		if err != nil {
			t.Fatalf("cache outage must not surface: %v", err)
		}
		if !dec.Allowed() {
			t.Fatalf("decision under cache outage: %+v", dec)
		}
	}
	// every decision degrades to a direct store fetch
	if n := store.fetches.Load(); n != 3 {
		t.Fatalf("store fetched %d times, want 3", n)
	}
}

func TestGateStoreUnavailableIsAnErrorNotADeny(t *testing.T) {
	store := examStore()
	store.down = true
	g := newTestGate(store, nil, nil)
	defer g.Close()

	dec, err := g.Authorize(context.Background(), &AccessContext{
		Principal: &Principal{ID: "alice", Status: StatusActive},
		Resource:  "course",
		Action:    "view",
	})
	if dec != nil {
		t.Fatalf("no decision must be produced, got %+v", dec)
	}
	if !errors.Is(err, ErrPermissionCheck) || !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrPermissionCheck wrapping ErrStoreUnavailable, got %v", err)
	}
}

func TestGateInvalidRoleDecision(t *testing.T) {
	store := examStore()
	sink := &recordingSink{}
	g := newTestGate(store, nil, sink)
	defer g.Close()

	dec, err := g.Authorize(context.Background(), &AccessContext{
		Principal: &Principal{ID: "mallory", Status: StatusActive, Roles: []string{"ghost"}},
		Resource:  "course",
		Action:    "view",
	})
	if err != nil {
		t.Fatalf("invalid role is a decision, not an error: %v", err)
	}
	if dec.Allowed() || dec.Reason != ReasonInvalidRole {
		t.Fatalf("invalid role: %+v", dec)
	}

	recs := sink.waitFor(1, time.Second)
	if len(recs) == 0 || !recs[0].SecurityAlert {
		t.Fatalf("invalid role must raise a security alert, got %+v", recs)
	}
}

func TestGateRegistryRejectsUnknownAction(t *testing.T) {
	reg := NewStaticRegistry([]ResourcePolicy{
		{Resource: "course", Actions: []string{"view", "edit"}},
	})
	store := &countingStore{fakeStore: examStore()}
	g := newTestGate(store, nil, nil, WithRegistry(reg))
	defer g.Close()
	ctx := context.Background()

	dec, err := g.Authorize(ctx, &AccessContext{
		Principal: &Principal{ID: "alice", Status: StatusActive},
		Resource:  "course",
		Action:    "teleport",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed() || dec.Reason != ReasonInvalidResourceAction {
		t.Fatalf("unknown action: %+v", dec)
	}
	if n := store.fetches.Load(); n != 0 {
		t.Fatalf("rejected actions must not hit the store, fetched %d", n)
	}

	// nested resources inherit the ancestor's action list
	dec, err = g.Authorize(ctx, &AccessContext{
		Principal: &Principal{ID: "alice", Status: StatusActive},
		Resource:  "course.lesson",
		Action:    "view",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Reason == ReasonInvalidResourceAction {
		t.Fatalf("nested resource must inherit ancestor actions: %+v", dec)
	}
}

func TestGateRegistryDefaults(t *testing.T) {
	reg := NewStaticRegistry([]ResourcePolicy{
		{Resource: "profile", Actions: []string{"view", "update"}, RoleDefaults: map[string][]string{
			"student": {"view", "update"},
		}},
	})
	store := newFakeStore(&Role{ID: "student", Status: StatusActive})
	store.assignments["u1"] = []string{"student"}
	g := newTestGate(store, nil, nil, WithRegistry(reg))
	defer g.Close()

	dec, err := g.Authorize(context.Background(), &AccessContext{
		Principal: &Principal{ID: "u1", Status: StatusActive},
		Resource:  "profile",
		Action:    "update",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed() || dec.Reason != ReasonPermissionGranted {
		t.Fatalf("registry default grant: %+v", dec)
	}
}

func TestGateAuditRecords(t *testing.T) {
	sink := &recordingSink{}
	g := newTestGate(examStore(), nil, sink)
	defer g.Close()

	_, err := g.Authorize(context.Background(), &AccessContext{
		Principal:  &Principal{ID: "alice", TenantID: "school-1", Status: StatusActive},
		Resource:   "course",
		Action:     "view",
		ResourceID: "c-7",
		TenantID:   "school-1",
		IP:         "192.0.2.10",
		SessionID:  "sess-1",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	recs := sink.waitFor(1, time.Second)
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	r := recs[0]
	if r.PrincipalID != "alice" || r.Resource != "course" || r.Action != "view" ||
		r.ResourceID != "c-7" || r.IP != "192.0.2.10" || r.SessionID != "sess-1" {
		t.Fatalf("audit record fields: %+v", r)
	}
	if r.Effect != EffectAllow || r.Reason != ReasonPermissionGranted || r.SecurityAlert {
		t.Fatalf("audit record decision: %+v", r)
	}
	if r.ID == "" || r.Timestamp.IsZero() {
		t.Fatalf("audit record identity: %+v", r)
	}
}

func TestGateSuspiciousDenialFlagsAlert(t *testing.T) {
	sink := &recordingSink{}
	g := newTestGate(examStore(), nil, sink)
	defer g.Close()

	dec, err := g.Authorize(context.Background(), &AccessContext{
		Principal:     &Principal{ID: "bob", Status: StatusActive},
		Resource:      "exam",
		Action:        "take",
		ResourceAttrs: map[string]any{"attempts": 5},
		AnomalySignal: true,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed() || !dec.Suspicious {
		t.Fatalf("anomalous denial must be flagged: %+v", dec)
	}

	recs := sink.waitFor(1, time.Second)
	if len(recs) == 0 || !recs[0].Suspicious || !recs[0].SecurityAlert {
		t.Fatalf("audit record must carry the alert: %+v", recs)
	}
}

func TestGateAuditSinkFailureDoesNotAffectDecision(t *testing.T) {
	g := newTestGate(examStore(), nil, erroringSink{})
	defer g.Close()

	dec, err := g.Authorize(context.Background(), &AccessContext{
		Principal: &Principal{ID: "alice", Status: StatusActive},
		Resource:  "course",
		Action:    "view",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed() {
		t.Fatalf("sink failure leaked into the decision: %+v", dec)
	}
}

type erroringSink struct{}

func (erroringSink) LogAccessAttempt(context.Context, *AccessRecord) error {
	return errors.New("sink down")
}
