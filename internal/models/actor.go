package models

// Role distinguishes the two sides of the protocol.
type Role string

const (
	RoleGuardian Role = "guardian"
	RoleChild    Role = "child"
)

// Actor is the already-authenticated identity performing an operation. The
// surrounding auth layer establishes it; the core only records and checks
// it.
type Actor struct {
	ID   string
	Role Role
}

// IsGuardian reports whether the actor holds guardian write authority.
func (a Actor) IsGuardian() bool {
	return a.Role == RoleGuardian
}
