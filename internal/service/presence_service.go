package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nettie/internal/models"
	"nettie/internal/repository"
)

// PresenceService maintains the child heartbeat and location record and
// exposes profile reads to the guardian side. Only the child-side process
// writes here.
type PresenceService struct {
	presence  *repository.PresenceRepository
	locations *repository.LocationRepository
	now       func() time.Time
}

func NewPresenceService(presence *repository.PresenceRepository, locations *repository.LocationRepository) *PresenceService {
	return &PresenceService{presence: presence, locations: locations, now: time.Now}
}

// Touch refreshes the child's lastSeen and mood. The child agent calls this
// on a fixed interval; the interval itself is configuration, not protocol.
func (s *PresenceService) Touch(ctx context.Context, childID string, mood models.Mood) error {
	if childID == "" {
		return errors.New("child id is required")
	}
	if mood == "" {
		mood = models.MoodCalm
	}
	if err := s.presence.Touch(ctx, childID, mood, s.now()); err != nil {
		return fmt.Errorf("failed to write heartbeat: %w", err)
	}
	return nil
}

// ReportLocation replaces the child's location record. Coordinates come
// from outside this core, the same way the scan string does; the write is
// stamped with the current time.
func (s *PresenceService) ReportLocation(ctx context.Context, childID string, lat, lng float64) error {
	if childID == "" {
		return errors.New("child id is required")
	}
	loc := &models.Location{
		Latitude:  lat,
		Longitude: lng,
		Timestamp: s.now().UnixMilli(),
	}
	if err := s.locations.Set(ctx, childID, loc); err != nil {
		return fmt.Errorf("failed to write location: %w", err)
	}
	return nil
}

// LastLocation returns the last reported location, or (nil, nil) when the
// device has never reported one.
func (s *PresenceService) LastLocation(ctx context.Context, childID string) (*models.Location, error) {
	return s.locations.Get(ctx, childID)
}

// Register writes the device nickname once at link time.
func (s *PresenceService) Register(ctx context.Context, childID, nickname string) error {
	if nickname == "" {
		nickname = "Child Device"
	}
	if err := s.presence.SetNickname(ctx, childID, nickname); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

// Read returns the child's profile, or (nil, nil) when the child has never
// heartbeated.
func (s *PresenceService) Read(ctx context.Context, childID string) (*models.ChildProfile, error) {
	return s.presence.Get(ctx, childID)
}

// ProfileSubscription delivers one profile snapshot per observed change.
type ProfileSubscription struct {
	C      <-chan models.ChildProfile
	cancel func()
}

func (s *ProfileSubscription) Cancel() {
	s.cancel()
}

// Subscribe watches a child profile for the guardian dashboard.
func (s *PresenceService) Subscribe(ctx context.Context, childID string) (*ProfileSubscription, error) {
	sub, err := s.presence.Watch(ctx, childID)
	if err != nil {
		return nil, err
	}

	out := make(chan models.ChildProfile, 16)
	go func() {
		defer close(out)
		for snap := range sub.C {
			profile, err := s.presence.Decode(childID, snap.Data)
			if err != nil || profile == nil {
				continue
			}
			select {
			case out <- *profile:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &ProfileSubscription{C: out, cancel: sub.Cancel}, nil
}

// LocationSource supplies the device position for a sync cycle. It returns
// ok=false when no position is available; the cycle then skips the
// location write, like a device without a fix.
type LocationSource func() (lat, lng float64, ok bool)

// RunHeartbeat touches presence on the configured interval until the
// context ends, syncing the location record on the same cycle when a
// source is provided. The first cycle runs immediately.
func (s *PresenceService) RunHeartbeat(ctx context.Context, childID string, mood models.Mood, interval time.Duration, locate LocationSource) error {
	if interval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if err := s.syncCycle(ctx, childID, mood, locate); err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.syncCycle(ctx, childID, mood, locate); err != nil {
				// Transient store failures should not kill the loop; the
				// next tick retries.
				continue
			}
		}
	}
}

func (s *PresenceService) syncCycle(ctx context.Context, childID string, mood models.Mood, locate LocationSource) error {
	if err := s.Touch(ctx, childID, mood); err != nil {
		return err
	}
	if locate != nil {
		if lat, lng, ok := locate(); ok {
			if err := s.ReportLocation(ctx, childID, lat, lng); err != nil {
				return err
			}
		}
	}
	return nil
}
