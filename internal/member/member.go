// Package member reads the member-role join table the gateway needs at startup to seed its RoleUserIndex
// (spec.md 6.4), and exposes the role-assignment mutations the Producer API's maintenance hooks
// (on_role_membership_changed) call through to keep that index in sync afterward.
package member

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a member row does not exist.
var ErrNotFound = errors.New("member not found")

// RoleAssignment is one row of the member_roles join table: a user holding a role.
type RoleAssignment struct {
	UserID uuid.UUID
	RoleID uuid.UUID
}

// Repository is the narrow read/write contract the registry's startup seed and the Producer API's maintenance
// hooks depend on.
type Repository interface {
	// ListRoleAssignments returns every (user_id, role_id) pair in the member_roles join table, used once at
	// startup to seed the RoleUserIndex.
	ListRoleAssignments(ctx context.Context) ([]RoleAssignment, error)

	// AssignRole records that userID now holds roleID.
	AssignRole(ctx context.Context, userID, roleID uuid.UUID) error

	// RemoveRole records that userID no longer holds roleID.
	RemoveRole(ctx context.Context, userID, roleID uuid.UUID) error
}
