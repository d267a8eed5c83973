package service

import (
	"context"
	"fmt"
	"time"

	"nettie/internal/models"
	"nettie/internal/repository"
	"nettie/internal/store"
)

// ConsentService is the consent & control ledger: guardian-authoritative
// per-child capability flags, readable and watchable from both sides.
type ConsentService struct {
	consents *repository.ConsentRepository
	members  *repository.MembershipRepository
	now      func() time.Time
}

func NewConsentService(consents *repository.ConsentRepository, members *repository.MembershipRepository) *ConsentService {
	return &ConsentService{
		consents: consents,
		members:  members,
		now:      time.Now,
	}
}

// SetConsent records one guardian decision. Only a guardian actor who owns
// the child's household may write; everyone else fails with ErrForbidden
// and leaves the prior value untouched. A child-side process can never
// grant itself anything through this path.
func (s *ConsentService) SetConsent(ctx context.Context, actor models.Actor, childID string, capability models.Capability, granted bool) error {
	if !actor.IsGuardian() {
		return ErrForbidden
	}
	linked, err := s.members.IsLinked(ctx, actor.ID, childID)
	if err != nil {
		return fmt.Errorf("failed to verify household: %w", err)
	}
	if !linked {
		return ErrForbidden
	}

	rec := &models.ConsentRecord{
		ChildID:    childID,
		Capability: capability,
		Granted:    granted,
		UpdatedAt:  s.now().UnixMilli(),
		UpdatedBy:  actor.ID,
	}
	if err := s.consents.Set(ctx, rec); err != nil {
		return fmt.Errorf("failed to write consent: %w", err)
	}
	return nil
}

// GetConsent returns the effective flag for one capability. Unset platform
// toggles default to granted (allow until the guardian restricts); unset
// opt-in consents default to denied.
func (s *ConsentService) GetConsent(ctx context.Context, childID string, capability models.Capability) (bool, error) {
	rec, err := s.consents.Get(ctx, childID, capability)
	if err != nil {
		return false, fmt.Errorf("failed to read consent: %w", err)
	}
	if rec == nil {
		return capability.DefaultGranted(), nil
	}
	return rec.Granted, nil
}

// Overview returns the effective record for every capability, with defaults
// filled in for capabilities the guardian has never written.
func (s *ConsentService) Overview(ctx context.Context, childID string) ([]models.ConsentRecord, error) {
	stored, err := s.consents.List(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to read consent records: %w", err)
	}
	return mergeDefaults(childID, stored), nil
}

// ConsentSubscription delivers one full consent snapshot per observed
// change until cancelled.
type ConsentSubscription struct {
	C      <-chan []models.ConsentRecord
	cancel func()
}

// Cancel releases both underlying store listeners. Safe to call twice.
func (s *ConsentSubscription) Cancel() {
	s.cancel()
}

// Subscribe watches a child's consent state. Both guardian and child UIs
// use this to stay current without polling.
func (s *ConsentService) Subscribe(ctx context.Context, childID string) (*ConsentSubscription, error) {
	toggles, err := s.consents.WatchToggles(ctx, childID)
	if err != nil {
		return nil, err
	}
	optIns, err := s.consents.WatchOptIns(ctx, childID)
	if err != nil {
		toggles.Cancel()
		return nil, err
	}

	out := make(chan []models.ConsentRecord, 16)
	stop := make(chan struct{})

	go func() {
		defer close(out)
		// Latest decoded state of each subtree, merged on every change.
		var toggleRecs, optInRecs []models.ConsentRecord
		for {
			var snap store.Snapshot
			var ok, optIn bool
			select {
			case snap, ok = <-toggles.C:
				optIn = false
			case snap, ok = <-optIns.C:
				optIn = true
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
			if !ok {
				return
			}
			recs, err := s.consents.DecodeSubtree(childID, optIn, snap.Data)
			if err != nil {
				continue
			}
			if optIn {
				optInRecs = recs
			} else {
				toggleRecs = recs
			}
			merged := mergeDefaults(childID, append(append([]models.ConsentRecord{}, toggleRecs...), optInRecs...))
			select {
			case out <- merged:
			default:
				// Slow consumer: evict the oldest queued snapshot so the
				// buffer always ends with current state.
				select {
				case <-out:
				default:
				}
				select {
				case out <- merged:
				default:
				}
			}
		}
	}()

	return &ConsentSubscription{
		C: out,
		cancel: func() {
			toggles.Cancel()
			optIns.Cancel()
			select {
			case <-stop:
			default:
				close(stop)
			}
		},
	}, nil
}

// mergeDefaults overlays stored records on the default policy so every
// capability appears exactly once, in the canonical order.
func mergeDefaults(childID string, stored []models.ConsentRecord) []models.ConsentRecord {
	byCapability := make(map[models.Capability]models.ConsentRecord, len(stored))
	for _, rec := range stored {
		byCapability[rec.Capability] = rec
	}
	all := models.Capabilities()
	merged := make([]models.ConsentRecord, 0, len(all))
	for _, c := range all {
		if rec, ok := byCapability[c]; ok {
			merged = append(merged, rec)
			continue
		}
		merged = append(merged, models.ConsentRecord{
			ChildID:    childID,
			Capability: c,
			Granted:    c.DefaultGranted(),
		})
	}
	return merged
}
