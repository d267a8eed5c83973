package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nettie/internal/models"
	"nettie/internal/store"
)

// TokenRepository owns pairing token records in the shared store.
type TokenRepository struct {
	store store.Store
}

func NewTokenRepository(s store.Store) *TokenRepository {
	return &TokenRepository{store: s}
}

// Create writes a freshly issued token as pending.
func (r *TokenRepository) Create(ctx context.Context, t *models.PairingToken) error {
	return r.store.Set(ctx, tokenPath(t.GuardianID, t.Token), t)
}

// Get retrieves a token record, or (nil, nil) when absent.
func (r *TokenRepository) Get(ctx context.Context, guardianID, token string) (*models.PairingToken, error) {
	var raw json.RawMessage
	if err := r.store.Get(ctx, tokenPath(guardianID, token), &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	t := &models.PairingToken{Token: token, GuardianID: guardianID}
	if err := json.Unmarshal(raw, t); err != nil {
		return nil, fmt.Errorf("decode token record: %w", err)
	}
	return t, nil
}

// Redeem marks a pending token redeemed through a single conditional
// transform. Concurrent redeemers serialize on the store transaction;
// exactly one observes the pending state and wins, every other caller gets
// ErrConflict. A plain read-then-write here would let two devices claim the
// same token.
func (r *TokenRepository) Redeem(ctx context.Context, guardianID, token string, now time.Time, ttl time.Duration) (*models.PairingToken, error) {
	var redeemed *models.PairingToken

	err := r.store.Update(ctx, tokenPath(guardianID, token), func(current json.RawMessage) (interface{}, error) {
		if current == nil {
			return nil, ErrNotFound
		}
		t := &models.PairingToken{Token: token, GuardianID: guardianID}
		if err := json.Unmarshal(current, t); err != nil {
			// Older guardian builds wrote a bare `true` marker. Treat it
			// as a pending token with no issue time.
			var marker bool
			if jsonErr := json.Unmarshal(current, &marker); jsonErr != nil || !marker {
				return nil, fmt.Errorf("decode token record: %w", err)
			}
			t.State = models.TokenPending
		}
		if t.State == "" {
			t.State = models.TokenPending
		}
		if t.State != models.TokenPending {
			return nil, ErrConflict
		}
		if t.Expired(now, ttl) {
			return nil, ErrExpired
		}
		t.State = models.TokenRedeemed
		t.RedeemedAt = now.UnixMilli()
		redeemed = t
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return redeemed, nil
}

// Retire removes a redeemed token record so it cannot linger as a dangling
// pending entry.
func (r *TokenRepository) Retire(ctx context.Context, guardianID, token string) error {
	return r.store.Delete(ctx, tokenPath(guardianID, token))
}
