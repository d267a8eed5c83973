package service

import "errors"

// Error taxonomy surfaced to callers. Every failure resolves to one of
// these (or a wrapped store.ErrUnavailable for transient I/O); nothing is
// silently swallowed or downgraded.
var (
	// ErrTokenNotFound means the pairing token does not exist.
	ErrTokenNotFound = errors.New("pairing token not found")

	// ErrTokenRedeemed means the token was already redeemed; the losing
	// side of a redemption race sees this.
	ErrTokenRedeemed = errors.New("pairing token already redeemed")

	// ErrTokenExpired means the token outlived the configured TTL.
	ErrTokenExpired = errors.New("pairing token expired")

	// ErrForbidden means the actor lacks guardian authority over the child.
	ErrForbidden = errors.New("actor may not modify this child's records")

	// ErrNotLinked means no membership exists for the guardian/child pair.
	ErrNotLinked = errors.New("child is not linked to this household")

	// ErrInvalidCredentials means a passcode login failed.
	ErrInvalidCredentials = errors.New("invalid passcode")

	// ErrInvalidSession means a session token failed verification.
	ErrInvalidSession = errors.New("invalid or expired session")
)
