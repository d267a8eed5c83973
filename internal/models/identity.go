package models

import "time"

// Identity is the locally cached actor context: which role this device
// plays and which household it belongs to. It is written once on a
// successful link and read by every operation that needs actor context.
type Identity struct {
	Role        Role
	GuardianID  string
	HouseholdID string
	ChildID     string
	LinkedAt    time.Time
}

// Actor converts the cached identity into the actor it represents.
func (i *Identity) Actor() Actor {
	if i.Role == RoleGuardian {
		return Actor{ID: i.GuardianID, Role: RoleGuardian}
	}
	return Actor{ID: i.ChildID, Role: RoleChild}
}
