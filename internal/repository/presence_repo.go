package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nettie/internal/models"
	"nettie/internal/store"
)

// PresenceRepository owns the child profile records the heartbeat refreshes.
type PresenceRepository struct {
	store store.Store
}

func NewPresenceRepository(s store.Store) *PresenceRepository {
	return &PresenceRepository{store: s}
}

// Touch refreshes lastSeen and mood with two point writes, matching what
// the mobile heartbeat has always written. Other profile fields are left
// alone.
func (r *PresenceRepository) Touch(ctx context.Context, childID string, mood models.Mood, now time.Time) error {
	base := profilePath(childID)
	if err := r.store.Set(ctx, base+"/lastSeen", now.UnixMilli()); err != nil {
		return err
	}
	return r.store.Set(ctx, base+"/mood", mood)
}

// SetEscalated flips the profile's escalation flag. Written by the
// escalation boundary, never by the heartbeat.
func (r *PresenceRepository) SetEscalated(ctx context.Context, childID string, escalated bool) error {
	return r.store.Set(ctx, profilePath(childID)+"/isEscalated", escalated)
}

// SetNickname records the device nickname written once at link time.
func (r *PresenceRepository) SetNickname(ctx context.Context, childID, nickname string) error {
	return r.store.Set(ctx, profilePath(childID)+"/nickname", nickname)
}

// Get returns the child profile, or (nil, nil) when none has been written.
func (r *PresenceRepository) Get(ctx context.Context, childID string) (*models.ChildProfile, error) {
	var raw json.RawMessage
	if err := r.store.Get(ctx, profilePath(childID), &raw); err != nil {
		return nil, err
	}
	return r.Decode(childID, raw)
}

// Watch subscribes to a child profile.
func (r *PresenceRepository) Watch(ctx context.Context, childID string) (*store.Subscription, error) {
	return r.store.Watch(ctx, profilePath(childID))
}

// Decode converts a watched profile snapshot into a ChildProfile.
func (r *PresenceRepository) Decode(childID string, data json.RawMessage) (*models.ChildProfile, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	p := &models.ChildProfile{ChildID: childID}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode child profile: %w", err)
	}
	return p, nil
}
