package models

// HouseholdMembership records that a child belongs to a guardian's
// household. Exactly one record exists per (guardian, child) pair; repeat
// links return the original record with its original LinkedAt.
type HouseholdMembership struct {
	GuardianID string `json:"-"`
	ChildID    string `json:"-"`
	LinkedAt   int64  `json:"linkedAt"`
}
