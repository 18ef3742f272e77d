// Package actor identifies who requested an operation. Authentication itself
// is external; the settlement core only checks the relationship between the
// actor and the record it wants to change.
package actor

// Role is the coarse relationship class carried in the access token.
type Role string

const (
	RoleStaff   Role = "staff"
	RoleCreator Role = "creator"
	RoleBuyer   Role = "buyer"
	RoleSystem  Role = "system" // background workers (billing, webhooks)
)

// Actor is the caller identity attached to every state-changing command.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// System is the identity used by background workers and webhook handlers.
var System = Actor{ID: "system", Role: RoleSystem}

// IsStaff reports whether the actor carries staff privileges.
func (a Actor) IsStaff() bool { return a.Role == RoleStaff }

// IsSystem reports whether the actor is an internal worker.
func (a Actor) IsSystem() bool { return a.Role == RoleSystem }
