package models

import "time"

// TokenState is the lifecycle state of a pairing token.
type TokenState string

const (
	TokenPending  TokenState = "pending"
	TokenRedeemed TokenState = "redeemed"
	TokenExpired  TokenState = "expired"
)

// PairingToken is a single-use credential a guardian issues so a child
// device can prove it scanned the guardian's code. It lives at
// guardianLinks/{guardianId}/pendingTokens/{token} until redeemed, after
// which the record is retired.
type PairingToken struct {
	Token      string     `json:"-"`
	GuardianID string     `json:"guardianId"`
	IssuedAt   int64      `json:"issuedAt"`
	RedeemedAt int64      `json:"redeemedAt,omitempty"`
	State      TokenState `json:"state"`
}

// Expired reports whether the token has outlived ttl at the given time.
// A zero ttl means tokens never expire, which is the default policy.
func (t *PairingToken) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || t.IssuedAt == 0 {
		return false
	}
	issued := time.UnixMilli(t.IssuedAt)
	return now.Sub(issued) > ttl
}
