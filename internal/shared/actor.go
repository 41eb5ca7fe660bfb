package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is the coarse capability an actor holds.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleCollector Role = "collector"
)

// Valid reports whether the role is one the system recognises.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleCollector
}

// Actor is the resolved caller of an operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// IsAdmin reports whether the actor may approve and settle payouts.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// RequireAdmin returns ErrPermission unless the actor is an admin.
func (a Actor) RequireAdmin(action string) error {
	if !a.IsAdmin() {
		return fmt.Errorf("%w: only admins can %s", ErrPermission, action)
	}
	return nil
}
