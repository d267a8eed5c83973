package repository

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"nettie/internal/models"
	"nettie/internal/store"
)

// MembershipRepository owns household membership records.
type MembershipRepository struct {
	store store.Store
}

func NewMembershipRepository(s store.Store) *MembershipRepository {
	return &MembershipRepository{store: s}
}

// Link records the (guardian, child) pair. The upsert is idempotent: if a
// record already exists its LinkedAt is preserved and the existing record is
// returned, so retried redemptions never produce a second membership.
func (r *MembershipRepository) Link(ctx context.Context, guardianID, childID string, now time.Time) (*models.HouseholdMembership, error) {
	var linked *models.HouseholdMembership

	err := r.store.Update(ctx, membershipPath(guardianID, childID), func(current json.RawMessage) (interface{}, error) {
		m := &models.HouseholdMembership{GuardianID: guardianID, ChildID: childID}
		if current != nil {
			if err := json.Unmarshal(current, m); err == nil && m.LinkedAt > 0 {
				linked = m
				// No change; writing the same value back keeps the
				// transform trivially idempotent.
				return json.RawMessage(current), nil
			}
		}
		m.LinkedAt = now.UnixMilli()
		linked = m
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return linked, nil
}

// ListChildren returns the childIds linked to a guardian as a snapshot read.
func (r *MembershipRepository) ListChildren(ctx context.Context, guardianID string) ([]string, error) {
	var children map[string]json.RawMessage
	if err := r.store.Get(ctx, childrenPath(guardianID), &children); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(children))
	for id := range children {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// IsLinked reports whether the pair has a membership record.
func (r *MembershipRepository) IsLinked(ctx context.Context, guardianID, childID string) (bool, error) {
	var raw json.RawMessage
	if err := r.store.Get(ctx, membershipPath(guardianID, childID), &raw); err != nil {
		return false, err
	}
	return len(raw) > 0 && string(raw) != "null", nil
}

// Get returns the membership record for a pair, or (nil, nil) when the pair
// is not linked.
func (r *MembershipRepository) Get(ctx context.Context, guardianID, childID string) (*models.HouseholdMembership, error) {
	var raw json.RawMessage
	if err := r.store.Get(ctx, membershipPath(guardianID, childID), &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	m := &models.HouseholdMembership{GuardianID: guardianID, ChildID: childID}
	if err := json.Unmarshal(raw, m); err != nil {
		// Tolerate the legacy bare `true` marker.
		return m, nil
	}
	return m, nil
}
