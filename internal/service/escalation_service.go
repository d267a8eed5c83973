package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"nettie/internal/models"
	"nettie/internal/repository"
)

// EscalationService reads the append-only freeze-reflex feed. Appends come
// only from the external detection pipeline; the guardian side is strictly
// read-only.
type EscalationService struct {
	escalations *repository.EscalationRepository
	members     *repository.MembershipRepository
	presence    *repository.PresenceRepository
}

func NewEscalationService(escalations *repository.EscalationRepository, members *repository.MembershipRepository, presence *repository.PresenceRepository) *EscalationService {
	return &EscalationService{escalations: escalations, members: members, presence: presence}
}

// Append records one detection event. This is the boundary the detection
// pipeline calls into; nothing inside this core ever invokes it. An
// escalated event also raises the child profile's escalation flag.
func (s *EscalationService) Append(ctx context.Context, ev *models.EscalationEvent) (string, error) {
	if ev.HouseholdID == "" || ev.ChildID == "" {
		return "", errors.New("household id and child id are required")
	}
	key, err := s.escalations.Append(ctx, ev)
	if err != nil {
		return "", fmt.Errorf("failed to append escalation: %w", err)
	}
	if ev.IsEscalated {
		if err := s.presence.SetEscalated(ctx, ev.ChildID, true); err != nil {
			log.Printf("escalation: failed to flag profile for %s: %v", ev.ChildID, err)
		}
	}
	return key, nil
}

// Recent returns up to limit events for a linked child, newest first. The
// guardian must own the child's household.
func (s *EscalationService) Recent(ctx context.Context, householdID, childID string, limit int) ([]models.EscalationEvent, error) {
	linked, err := s.members.IsLinked(ctx, householdID, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify household: %w", err)
	}
	if !linked {
		return nil, ErrNotLinked
	}
	return s.escalations.Recent(ctx, householdID, childID, limit)
}

// EscalationSubscription delivers newly observed escalated events until
// cancelled. Events the subscription has already delivered are never
// repeated, even when the store re-sends a full snapshot.
type EscalationSubscription struct {
	C      <-chan models.EscalationEvent
	cancel func()
}

func (s *EscalationSubscription) Cancel() {
	s.cancel()
}

// SubscribeEscalated watches a child's detections and emits each event with
// isEscalated set, oldest first within a batch so alert handlers see
// arrivals in timeline order.
func (s *EscalationService) SubscribeEscalated(ctx context.Context, householdID, childID string) (*EscalationSubscription, error) {
	sub, err := s.escalations.Watch(ctx, householdID, childID)
	if err != nil {
		return nil, err
	}

	out := make(chan models.EscalationEvent, 64)
	go func() {
		defer close(out)
		seen := make(map[string]bool)
		for snap := range sub.C {
			events, err := s.escalations.Decode(householdID, childID, snap.Data)
			if err != nil {
				continue
			}
			// Decode returns newest first; walk backwards to deliver in
			// timeline order.
			for i := len(events) - 1; i >= 0; i-- {
				ev := events[i]
				if !ev.IsEscalated || seen[ev.Key] {
					continue
				}
				seen[ev.Key] = true
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return &EscalationSubscription{C: out, cancel: sub.Cancel}, nil
}
