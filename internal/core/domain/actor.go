package domain

import "github.com/google/uuid"

// Role is the capability class of an actor.
type Role string

const (
	RoleRequester Role = "requester"
	RoleAdmin     Role = "admin"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleRequester, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the authenticated identity on whose behalf a ledger or workflow call runs.
// It is always passed explicitly; nothing reads identity from ambient state.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// SystemActor identifies background jobs such as the reconcile auditor.
func SystemActor() Actor {
	return Actor{ID: uuid.Nil, Role: RoleSystem}
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanMutateLedger reports whether the actor may post ledger entries directly.
func (a Actor) CanMutateLedger() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// CanRead reports whether the actor may read data owned by ownerID.
func (a Actor) CanRead(ownerID uuid.UUID) bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem || a.ID == ownerID
}
