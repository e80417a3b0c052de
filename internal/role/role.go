// Package role reads the roles table the gateway needs at startup to seed its in-memory RoleUserIndex
// (spec.md 6.4). Role mutation (name, colour, permissions, position) is a REST-surface concern the gateway never
// touches; only the role id matters here.
package role

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a role id does not exist.
var ErrNotFound = errors.New("role not found")

// Role is the minimal shape the gateway reads: an id to key the RoleUserIndex by.
type Role struct {
	ID uuid.UUID
}

// Repository is the narrow read contract the registry's startup seed depends on.
type Repository interface {
	// List returns every role in the roles table, used once at startup to seed the RoleUserIndex with an entry
	// (possibly empty) for every known role id.
	List(ctx context.Context) ([]Role, error)
}
