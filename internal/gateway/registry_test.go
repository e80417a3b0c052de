package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lattice-chat/lattice-gateway/internal/member"
	"github.com/lattice-chat/lattice-gateway/internal/role"
)

type fakeRoleRepo struct {
	roles []role.Role
}

func (r *fakeRoleRepo) List(context.Context) ([]role.Role, error) { return r.roles, nil }

type fakeMemberRepo struct {
	assignments []member.RoleAssignment
}

func (r *fakeMemberRepo) ListRoleAssignments(context.Context) ([]member.RoleAssignment, error) {
	return r.assignments, nil
}
func (r *fakeMemberRepo) AssignRole(context.Context, uuid.UUID, uuid.UUID) error { return nil }
func (r *fakeMemberRepo) RemoveRole(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func TestGetOrCreateUserReturnsSameInstance(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	userID := uuid.New()

	u1 := r.GetOrCreateUser(userID)
	u2 := r.GetOrCreateUser(userID)

	if u1 != u2 {
		t.Error("GetOrCreateUser returned different instances for the same user ID")
	}
}

func TestRegisterAndDeregisterSession(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	userID := uuid.New()
	user := r.GetOrCreateUser(userID)
	session := &GatewaySession{Token: "tok-1", UserID: userID}

	r.RegisterSession(user, session)
	if got := r.SessionCount(); got != 1 {
		t.Fatalf("SessionCount() = %d, want 1", got)
	}

	got, drained, ok := r.DeregisterSession("tok-1")
	if !ok {
		t.Fatal("DeregisterSession() ok = false, want true")
	}
	if got != session {
		t.Error("DeregisterSession() returned a different session")
	}
	if !drained {
		t.Error("DeregisterSession() drained = false, want true (last session for user)")
	}
	if r.SessionCount() != 0 {
		t.Errorf("SessionCount() after deregister = %d, want 0", r.SessionCount())
	}
	if r.ConnectedUserCount() != 0 {
		t.Errorf("ConnectedUserCount() after last session removed = %d, want 0", r.ConnectedUserCount())
	}
}

func TestDeregisterSessionUnknownTokenIsNotOK(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	if _, _, ok := r.DeregisterSession("does-not-exist"); ok {
		t.Error("DeregisterSession() ok = true for unknown token, want false")
	}
}

func TestDeregisterSessionKeepsUserWithRemainingSessions(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	userID := uuid.New()
	user := r.GetOrCreateUser(userID)
	s1 := &GatewaySession{Token: "s1", UserID: userID}
	s2 := &GatewaySession{Token: "s2", UserID: userID}
	r.RegisterSession(user, s1)
	r.RegisterSession(user, s2)

	_, drained, ok := r.DeregisterSession("s1")
	if !ok {
		t.Fatal("DeregisterSession(s1) ok = false")
	}
	if drained {
		t.Error("DeregisterSession(s1) drained = true, want false (s2 still live)")
	}
	if r.ConnectedUserCount() != 1 {
		t.Errorf("ConnectedUserCount() = %d, want 1", r.ConnectedUserCount())
	}
}

func TestPublishToUserNoSessionsReturnsError(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	if err := r.PublishToUser(uuid.New(), UserEvent{}); err != ErrUserNotConnected {
		t.Errorf("PublishToUser() error = %v, want ErrUserNotConnected", err)
	}
}

func TestResolveRecipientsUnionsAndDeduplicates(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	roleID := uuid.New()

	r.RoleAdded(roleID)
	r.MemberRoleAdded(u1, roleID)
	r.MemberRoleAdded(u2, roleID)

	// Scenario 5: explicit users overlap with the role's membership; must be deduplicated.
	got := r.ResolveRecipients([]uuid.UUID{u1, u1, u3}, []uuid.UUID{roleID})

	want := map[uuid.UUID]struct{}{u1: {}, u2: {}, u3: {}}
	if len(got) != len(want) {
		t.Fatalf("ResolveRecipients() = %v, want %v", got, want)
	}
	for id := range want {
		if _, ok := got[id]; !ok {
			t.Errorf("ResolveRecipients() missing %s", id)
		}
	}
}

func TestRoleMaintenanceHooks(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	roleID := uuid.New()
	userID := uuid.New()

	r.MemberRoleAdded(userID, roleID)
	if got := r.ResolveRecipients(nil, []uuid.UUID{roleID}); len(got) != 1 {
		t.Fatalf("after MemberRoleAdded: ResolveRecipients() = %v, want 1 entry", got)
	}

	r.MemberRoleRemoved(userID, roleID)
	if got := r.ResolveRecipients(nil, []uuid.UUID{roleID}); len(got) != 0 {
		t.Fatalf("after MemberRoleRemoved: ResolveRecipients() = %v, want empty", got)
	}

	r.MemberRoleAdded(userID, roleID)
	r.RoleDeleted(roleID)
	if got := r.ResolveRecipients(nil, []uuid.UUID{roleID}); len(got) != 0 {
		t.Fatalf("after RoleDeleted: ResolveRecipients() = %v, want empty", got)
	}
}

func TestUserRemovedDropsFromEveryRole(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	userID := uuid.New()
	role1, role2 := uuid.New(), uuid.New()

	r.MemberRoleAdded(userID, role1)
	r.MemberRoleAdded(userID, role2)
	r.UserRemoved(userID)

	got := r.ResolveRecipients(nil, []uuid.UUID{role1, role2})
	if len(got) != 0 {
		t.Errorf("ResolveRecipients() after UserRemoved = %v, want empty", got)
	}
}

func TestSeedRoleIndexFromRepositories(t *testing.T) {
	t.Parallel()

	role1, role2 := uuid.New(), uuid.New()
	user1 := uuid.New()

	r := NewRegistry(4, zerolog.Nop())
	roles := &fakeRoleRepo{roles: []role.Role{{ID: role1}, {ID: role2}}}
	members := &fakeMemberRepo{assignments: []member.RoleAssignment{{UserID: user1, RoleID: role1}}}

	if err := r.SeedRoleIndex(context.Background(), roles, members); err != nil {
		t.Fatalf("SeedRoleIndex() error = %v", err)
	}

	if got := r.ResolveRecipients(nil, []uuid.UUID{role1}); len(got) != 1 {
		t.Errorf("role1 recipients = %v, want 1 entry", got)
	}
	// role2 has no assignments but must still have an (empty) entry. Resolving an absent role also yields zero
	// recipients, so the entry itself is checked directly.
	if got := r.ResolveRecipients(nil, []uuid.UUID{role2}); len(got) != 0 {
		t.Errorf("role2 recipients = %v, want empty", got)
	}
	r.mu.RLock()
	_, hasRole2 := r.roleIndex[role2]
	r.mu.RUnlock()
	if !hasRole2 {
		t.Error("role2 has no entry in the role index, want an empty entry")
	}
}

func TestResumableSessionLifecycle(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	userID := uuid.New()

	r.InsertResumable("tok", userID, 7)

	rs, ok := r.LookupResumable("tok")
	if !ok {
		t.Fatal("LookupResumable() ok = false, want true")
	}
	if rs.UserID != userID || rs.DisconnectedAtSequence != 7 {
		t.Errorf("LookupResumable() = %+v, want UserID=%s DisconnectedAtSequence=7", rs, userID)
	}

	r.RemoveResumable("tok")
	if _, ok := r.LookupResumable("tok"); ok {
		t.Error("LookupResumable() ok = true after RemoveResumable, want false")
	}
}

func TestExpiredResumableAndEviction(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	r.InsertResumable("stale", uuid.New(), 0)
	r.mu.Lock()
	r.resumable["stale"].DisconnectedAt = time.Now().Add(-95 * time.Second)
	r.mu.Unlock()

	r.InsertResumable("fresh", uuid.New(), 0)

	expired := r.ExpiredResumable(90 * time.Second)
	if len(expired) != 1 || expired[0] != "stale" {
		t.Fatalf("ExpiredResumable() = %v, want [stale]", expired)
	}

	evicted := r.EvictResumable(expired)
	if evicted != 1 {
		t.Errorf("EvictResumable() = %d, want 1", evicted)
	}
	if _, ok := r.LookupResumable("stale"); ok {
		t.Error("stale entry still present after eviction")
	}
	if _, ok := r.LookupResumable("fresh"); !ok {
		t.Error("fresh entry was evicted, want it to remain")
	}
}

func TestSessionNextSequenceIncrements(t *testing.T) {
	t.Parallel()

	s := &GatewaySession{Token: "t"}
	if s.CurrentSequence() != 0 {
		t.Fatalf("CurrentSequence() initial = %d, want 0", s.CurrentSequence())
	}
	if got := s.NextSequence(); got != 1 {
		t.Errorf("NextSequence() = %d, want 1", got)
	}
	if got := s.NextSequence(); got != 2 {
		t.Errorf("NextSequence() = %d, want 2", got)
	}
}
