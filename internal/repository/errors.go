package repository

import "errors"

// Record-level outcomes the service layer maps onto its error taxonomy.
var (
	// ErrNotFound means the addressed record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict means a conditional write found the record in a state
	// that forbids the transition (e.g. a token that is no longer pending).
	ErrConflict = errors.New("record state conflict")

	// ErrExpired means the record exists but its TTL policy has lapsed.
	ErrExpired = errors.New("record expired")
)
