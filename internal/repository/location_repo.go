package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"nettie/internal/models"
	"nettie/internal/store"
)

// LocationRepository owns the per-child location record the child agent
// refreshes on its sync cycle.
type LocationRepository struct {
	store store.Store
}

func NewLocationRepository(s store.Store) *LocationRepository {
	return &LocationRepository{store: s}
}

// Set replaces the child's location record.
func (r *LocationRepository) Set(ctx context.Context, childID string, loc *models.Location) error {
	return r.store.Set(ctx, locationPath(childID), loc)
}

// Get returns the last reported location, or (nil, nil) when the device has
// never reported one.
func (r *LocationRepository) Get(ctx context.Context, childID string) (*models.Location, error) {
	var raw json.RawMessage
	if err := r.store.Get(ctx, locationPath(childID), &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	loc := &models.Location{}
	if err := json.Unmarshal(raw, loc); err != nil {
		return nil, fmt.Errorf("decode location: %w", err)
	}
	return loc, nil
}
