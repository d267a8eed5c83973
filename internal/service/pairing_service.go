package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nettie/internal/models"
	"nettie/internal/payload"
	"nettie/internal/repository"
)

// PairingService issues and redeems the single-use tokens that link a child
// device into a guardian's household.
type PairingService struct {
	tokens  *repository.TokenRepository
	members *repository.MembershipRepository
	ttl     time.Duration
	now     func() time.Time
}

// NewPairingService creates a pairing service. ttl of zero means issued
// tokens never expire until redeemed.
func NewPairingService(tokens *repository.TokenRepository, members *repository.MembershipRepository, ttl time.Duration) *PairingService {
	return &PairingService{
		tokens:  tokens,
		members: members,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue creates a pending token for the guardian and returns it together
// with the payload string the guardian side renders into a scannable code.
// UUIDv4 gives the token its required entropy.
func (s *PairingService) Issue(ctx context.Context, guardianID string) (*models.PairingToken, string, error) {
	if guardianID == "" {
		return nil, "", errors.New("guardian id is required")
	}

	t := &models.PairingToken{
		Token:      uuid.New().String(),
		GuardianID: guardianID,
		IssuedAt:   s.now().UnixMilli(),
		State:      models.TokenPending,
	}
	if err := s.tokens.Create(ctx, t); err != nil {
		return nil, "", fmt.Errorf("failed to write pending token: %w", err)
	}
	return t, payload.Encode(t.Token, guardianID), nil
}

// Redeem consumes a token on behalf of a child device. At most one caller
// ever succeeds per token: the conditional transform in the token
// repository decides the winner, and only the winner reaches the membership
// write. Losers observe ErrTokenRedeemed and cause no side effects.
func (s *PairingService) Redeem(ctx context.Context, token, guardianID, childID string) (*models.HouseholdMembership, error) {
	if token == "" || guardianID == "" || childID == "" {
		return nil, errors.New("token, guardian id, and child id are required")
	}

	now := s.now()
	if _, err := s.tokens.Redeem(ctx, guardianID, token, now, s.ttl); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrTokenNotFound
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrTokenRedeemed
		case errors.Is(err, repository.ErrExpired):
			return nil, ErrTokenExpired
		default:
			return nil, fmt.Errorf("failed to redeem token: %w", err)
		}
	}

	membership, err := s.members.Link(ctx, guardianID, childID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record membership: %w", err)
	}

	// The redeemed record stays in place so a late second redeem observes
	// the redeemed state rather than an absent token.
	return membership, nil
}

// Revoke removes a token record so it can never be redeemed. Guardians use
// this to cancel a code that was issued but never scanned.
func (s *PairingService) Revoke(ctx context.Context, guardianID, token string) error {
	if err := s.tokens.Retire(ctx, guardianID, token); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// RedeemScan handles a raw scan result string from a child device. The full
// payload form goes through token redemption; the bare household form links
// directly, kept for codes printed by older guardian builds.
func (s *PairingService) RedeemScan(ctx context.Context, scanned, childID string) (*models.HouseholdMembership, error) {
	req, err := payload.Parse(scanned)
	if err != nil {
		return nil, err
	}
	if req.Bare() {
		if childID == "" {
			return nil, errors.New("child id is required")
		}
		membership, err := s.members.Link(ctx, req.HouseholdID, childID, s.now())
		if err != nil {
			return nil, fmt.Errorf("failed to record membership: %w", err)
		}
		return membership, nil
	}
	return s.Redeem(ctx, req.Token, req.GuardianID, childID)
}

// Token returns the current record for a token, or nil if it has been
// retired.
func (s *PairingService) Token(ctx context.Context, guardianID, token string) (*models.PairingToken, error) {
	return s.tokens.Get(ctx, guardianID, token)
}

// ListChildren returns the childIds linked to a guardian.
func (s *PairingService) ListChildren(ctx context.Context, guardianID string) ([]string, error) {
	children, err := s.members.ListChildren(ctx, guardianID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	return children, nil
}

// IsLinked reports whether the pair has a membership record.
func (s *PairingService) IsLinked(ctx context.Context, guardianID, childID string) (bool, error) {
	return s.members.IsLinked(ctx, guardianID, childID)
}
