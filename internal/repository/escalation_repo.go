package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"nettie/internal/models"
	"nettie/internal/store"
)

// EscalationRepository owns the append-only detection feed. Events are never
// mutated or deleted here; the detection pipeline appends, guardians read.
type EscalationRepository struct {
	store store.Store
}

func NewEscalationRepository(s store.Store) *EscalationRepository {
	return &EscalationRepository{store: s}
}

// Append adds one event under a store-assigned, time-ordered key and
// returns that key.
func (r *EscalationRepository) Append(ctx context.Context, ev *models.EscalationEvent) (string, error) {
	key, err := r.store.Push(ctx, detectionsPath(ev.HouseholdID, ev.ChildID), ev)
	if err != nil {
		return "", err
	}
	ev.Key = key
	return key, nil
}

// Recent returns up to limit events, newest first by timestamp with the
// store key as tiebreaker. The store may deliver events out of order; the
// sort here is what gives readers the display order.
func (r *EscalationRepository) Recent(ctx context.Context, householdID, childID string, limit int) ([]models.EscalationEvent, error) {
	var raw json.RawMessage
	if err := r.store.Get(ctx, detectionsPath(householdID, childID), &raw); err != nil {
		return nil, err
	}
	events, err := r.Decode(householdID, childID, raw)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Watch subscribes to the child's detection subtree.
func (r *EscalationRepository) Watch(ctx context.Context, householdID, childID string) (*store.Subscription, error) {
	return r.store.Watch(ctx, detectionsPath(householdID, childID))
}

// Decode converts a detection subtree snapshot into events, newest first.
func (r *EscalationRepository) Decode(householdID, childID string, data json.RawMessage) ([]models.EscalationEvent, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var byKey map[string]models.EscalationEvent
	if err := json.Unmarshal(data, &byKey); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	events := make([]models.EscalationEvent, 0, len(byKey))
	for key, ev := range byKey {
		ev.Key = key
		ev.HouseholdID = householdID
		ev.ChildID = childID
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Before(&events[j])
	})
	return events, nil
}
