package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"nettie/internal/models"
	"nettie/internal/store"
)

// ConsentRepository owns per-child consent records in the shared store.
type ConsentRepository struct {
	store store.Store
}

func NewConsentRepository(s store.Store) *ConsentRepository {
	return &ConsentRepository{store: s}
}

// Set writes one consent decision, last write wins.
func (r *ConsentRepository) Set(ctx context.Context, rec *models.ConsentRecord) error {
	return r.store.Set(ctx, consentPath(rec.ChildID, rec.Capability), rec)
}

// Get retrieves the stored record for a capability, or (nil, nil) when the
// guardian has never written one.
func (r *ConsentRepository) Get(ctx context.Context, childID string, c models.Capability) (*models.ConsentRecord, error) {
	var raw json.RawMessage
	if err := r.store.Get(ctx, consentPath(childID, c), &raw); err != nil {
		return nil, err
	}
	return decodeConsent(childID, c, raw)
}

// List returns every stored consent record for a child, across both the
// platform-toggle and opt-in subtrees. Capabilities with no record are
// omitted; callers apply defaults.
func (r *ConsentRepository) List(ctx context.Context, childID string) ([]models.ConsentRecord, error) {
	var records []models.ConsentRecord
	for _, c := range models.Capabilities() {
		rec, err := r.Get(ctx, childID, c)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// WatchToggles and WatchOptIns expose the two consent subtrees for
// subscription; the service layer merges them into one record stream.
func (r *ConsentRepository) WatchToggles(ctx context.Context, childID string) (*store.Subscription, error) {
	return r.store.Watch(ctx, platformControlsPath(childID))
}

func (r *ConsentRepository) WatchOptIns(ctx context.Context, childID string) (*store.Subscription, error) {
	return r.store.Watch(ctx, optInConsentPath(childID))
}

// DecodeSubtree converts one watched subtree snapshot into consent records.
func (r *ConsentRepository) DecodeSubtree(childID string, optIn bool, data json.RawMessage) ([]models.ConsentRecord, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var byCapability map[string]json.RawMessage
	if err := json.Unmarshal(data, &byCapability); err != nil {
		return nil, fmt.Errorf("decode consent subtree: %w", err)
	}
	var records []models.ConsentRecord
	for name, raw := range byCapability {
		c, err := models.ParseCapability(name)
		if err != nil || c.OptIn() != optIn {
			continue
		}
		rec, err := decodeConsent(childID, c, raw)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// decodeConsent accepts both the structured record this core writes and the
// bare boolean the original mobile clients wrote.
func decodeConsent(childID string, c models.Capability, raw json.RawMessage) (*models.ConsentRecord, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	rec := &models.ConsentRecord{ChildID: childID, Capability: c}
	if err := json.Unmarshal(raw, rec); err == nil {
		return rec, nil
	}
	var granted bool
	if err := json.Unmarshal(raw, &granted); err != nil {
		return nil, fmt.Errorf("decode consent record for %s: %w", c, err)
	}
	rec.Granted = granted
	return rec, nil
}
