package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lattice-chat/lattice-gateway/internal/member"
	"github.com/lattice-chat/lattice-gateway/internal/role"
)

// GatewayUser is the identity of one logical user: a single inbox shared by every session of that user, and the
// sessions map keyed by session token. The inbox carries un-sequenced events -- last_sequence is assigned per
// session, not per user, so each session's outbound loop stamps its own copy when it forwards an event.
type GatewayUser struct {
	UserID uuid.UUID
	inbox  *broadcaster[UserEvent]

	mu       sync.RWMutex
	sessions map[string]*GatewaySession
}

func newGatewayUser(userID uuid.UUID, bufSize int) *GatewayUser {
	return &GatewayUser{
		UserID:   userID,
		inbox:    newBroadcaster[UserEvent](bufSize),
		sessions: make(map[string]*GatewaySession),
	}
}

// SessionCount returns the number of live sessions this user currently holds.
func (u *GatewayUser) SessionCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.sessions)
}

// SubscribeInbox registers a new consumer of this user's broadcast inbox; a session's outbound loop holds exactly
// one subscription for its lifetime.
func (u *GatewayUser) SubscribeInbox() (int, <-chan UserEvent) {
	return u.inbox.subscribe()
}

// UnsubscribeInbox removes a consumer registered by SubscribeInbox.
func (u *GatewayUser) UnsubscribeInbox(id int) {
	u.inbox.unsubscribe(id)
}

// GatewaySession is one connected device: a non-owning back-reference to its GatewayUser, the C2 connection
// adapter, and the monotonic sequence counter the outbound loop and heartbeat controller share.
type GatewaySession struct {
	Token  string
	UserID uuid.UUID
	Conn   *Conn

	lastSequence atomic.Int64
}

// NextSequence increments and returns the next outbound sequence number.
func (s *GatewaySession) NextSequence() int64 { return s.lastSequence.Add(1) }

// CurrentSequence returns the sequence number without incrementing it.
func (s *GatewaySession) CurrentSequence() int64 { return s.lastSequence.Load() }

// ResumableSession is the tombstone left behind when a session disconnects cleanly enough to be resumable.
type ResumableSession struct {
	Token                  string
	UserID                 uuid.UUID
	DisconnectedAtSequence int64
	DisconnectedAt         time.Time
}

// Registry is the ConnectedUsers singleton: the process-wide owner of all live user/session state, the
// resumable-session table, and the RoleUserIndex. Every lookup in the gateway funnels through one Registry value
// passed by handle to each session task -- there is no package-level mutable state.
//
// Lock order: top-level mu, then a GatewayUser's own mu. No code acquires in the reverse direction.
type Registry struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]*GatewayUser
	sessions  map[string]*GatewaySession // token -> session, a convenience index mirroring users[x].sessions
	resumable map[string]*ResumableSession
	roleIndex map[uuid.UUID]map[uuid.UUID]struct{} // role_id -> set of user_id

	sendBufferSize int
	log            zerolog.Logger
}

// NewRegistry creates an empty Registry. sendBufferSize sizes every per-user inbox and per-connection broadcaster.
func NewRegistry(sendBufferSize int, logger zerolog.Logger) *Registry {
	return &Registry{
		users:          make(map[uuid.UUID]*GatewayUser),
		sessions:       make(map[string]*GatewaySession),
		resumable:      make(map[string]*ResumableSession),
		roleIndex:      make(map[uuid.UUID]map[uuid.UUID]struct{}),
		sendBufferSize: sendBufferSize,
		log:            logger.With().Str("component", "registry").Logger(),
	}
}

// SeedRoleIndex populates the RoleUserIndex from persistent storage: every role gets an entry (possibly empty),
// then every member_roles row adds its user to that role's set. Called once at startup (spec.md 6.4).
func (r *Registry) SeedRoleIndex(ctx context.Context, roles role.Repository, members member.Repository) error {
	allRoles, err := roles.List(ctx)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	assignments, err := members.ListRoleAssignments(ctx)
	if err != nil {
		return fmt.Errorf("list member role assignments: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ro := range allRoles {
		if _, ok := r.roleIndex[ro.ID]; !ok {
			r.roleIndex[ro.ID] = make(map[uuid.UUID]struct{})
		}
	}
	for _, a := range assignments {
		set, ok := r.roleIndex[a.RoleID]
		if !ok {
			set = make(map[uuid.UUID]struct{})
			r.roleIndex[a.RoleID] = set
		}
		set[a.UserID] = struct{}{}
	}

	r.log.Info().Int("roles", len(allRoles)).Int("assignments", len(assignments)).Msg("seeded role user index")
	return nil
}

// GetOrCreateUser returns the GatewayUser for userID, creating it (and its inbox) if this is its first session.
func (r *Registry) GetOrCreateUser(userID uuid.UUID) *GatewayUser {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[userID]; ok {
		return u
	}
	u := newGatewayUser(userID, r.sendBufferSize)
	r.users[userID] = u
	return u
}

// RegisterSession inserts session into its user's sessions map and the top-level token index.
func (r *Registry) RegisterSession(user *GatewayUser, session *GatewaySession) {
	user.mu.Lock()
	user.sessions[session.Token] = session
	user.mu.Unlock()

	r.mu.Lock()
	r.sessions[session.Token] = session
	r.mu.Unlock()
}

// DeregisterSession removes a session from both indices. It returns the session's last known state so the caller
// (the session task) can build a ResumableSession, and reports whether this was the user's last live session, in
// which case the user's GatewayUser has already been removed from the registry.
func (r *Registry) DeregisterSession(token string) (session *GatewaySession, userDrained bool, ok bool) {
	r.mu.Lock()
	session, ok = r.sessions[token]
	if !ok {
		r.mu.Unlock()
		return nil, false, false
	}
	delete(r.sessions, token)
	user, hasUser := r.users[session.UserID]
	r.mu.Unlock()

	if !hasUser {
		return session, true, true
	}

	user.mu.Lock()
	delete(user.sessions, token)
	drained := len(user.sessions) == 0
	user.mu.Unlock()

	if drained {
		r.mu.Lock()
		if current, stillThere := r.users[session.UserID]; stillThere && current == user {
			delete(r.users, session.UserID)
		}
		r.mu.Unlock()
	}

	return session, drained, true
}

// InsertResumable records a tombstone for a session that disconnected cleanly enough to be resumable.
func (r *Registry) InsertResumable(token string, userID uuid.UUID, lastSeq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumable[token] = &ResumableSession{
		Token:                  token,
		UserID:                 userID,
		DisconnectedAtSequence: lastSeq,
		DisconnectedAt:         time.Now(),
	}
}

// LookupResumable returns the resumable entry for token, if any.
func (r *Registry) LookupResumable(token string) (*ResumableSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.resumable[token]
	return rs, ok
}

// RemoveResumable deletes a resumable entry, used once a RESUME succeeds.
func (r *Registry) RemoveResumable(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resumable, token)
}

// ExpiredResumable returns the tokens of every resumable entry older than maxAge, without removing them.
func (r *Registry) ExpiredResumable(maxAge time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var expired []string
	for token, rs := range r.resumable {
		if now.Sub(rs.DisconnectedAt) > maxAge {
			expired = append(expired, token)
		}
	}
	return expired
}

// EvictResumable removes the given tokens from the resumable table and returns how many were actually present.
func (r *Registry) EvictResumable(tokens []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, token := range tokens {
		if _, ok := r.resumable[token]; ok {
			delete(r.resumable, token)
			count++
		}
	}
	return count
}

// PublishToUser enqueues an event onto userID's inbox. It is a no-op if the user has no live sessions
// (ErrUserNotConnected), matching spec.md 4.6's publish_to_user contract.
func (r *Registry) PublishToUser(userID uuid.UUID, event UserEvent) error {
	r.mu.RLock()
	u, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrUserNotConnected
	}
	u.inbox.publish(event)
	return nil
}

// ResolveRecipients unions explicit user IDs with the members of every given role, de-duplicating.
func (r *Registry) ResolveRecipients(users []uuid.UUID, roles []uuid.UUID) map[uuid.UUID]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[uuid.UUID]struct{}, len(users))
	for _, u := range users {
		result[u] = struct{}{}
	}
	for _, roleID := range roles {
		for userID := range r.roleIndex[roleID] {
			result[userID] = struct{}{}
		}
	}
	return result
}

// RoleAdded ensures roleID has an entry in the index, even if empty.
func (r *Registry) RoleAdded(roleID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roleIndex[roleID]; !ok {
		r.roleIndex[roleID] = make(map[uuid.UUID]struct{})
	}
}

// MemberRoleAdded records that userID now holds roleID.
func (r *Registry) MemberRoleAdded(userID, roleID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.roleIndex[roleID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		r.roleIndex[roleID] = set
	}
	set[userID] = struct{}{}
}

// MemberRoleRemoved records that userID no longer holds roleID.
func (r *Registry) MemberRoleRemoved(userID, roleID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.roleIndex[roleID]; ok {
		delete(set, userID)
	}
}

// RoleDeleted drops roleID's entry from the index entirely.
func (r *Registry) RoleDeleted(roleID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roleIndex, roleID)
}

// UserRemoved drops userID from every role's user set. Called on account deletion -- one of the four maintenance
// hooks spec.md 9 says a complete implementation must wire from the start.
func (r *Registry) UserRemoved(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, set := range r.roleIndex {
		delete(set, userID)
	}
}

// ConnectedUserCount returns the number of distinct users with at least one live session, for diagnostics.
func (r *Registry) ConnectedUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// SessionCount returns the number of live sessions across all users, for diagnostics.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
