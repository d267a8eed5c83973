package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnavailable wraps transient store I/O failures. Callers may retry
	// with backoff; the store itself never retries indefinitely.
	ErrUnavailable = errors.New("state store unavailable")
)

// Snapshot is one observed value of a watched subtree. Data is the raw JSON
// of the subtree at the time of the change, or nil if the subtree is empty.
type Snapshot struct {
	Path string
	Data json.RawMessage
}

// UpdateFunc transforms the current value at a path into its next value.
// current is nil when the path holds no value. Returning a nil next value
// deletes the path. Returning an error aborts the update without writing,
// and the error is surfaced to the Update caller unchanged.
type UpdateFunc func(current json.RawMessage) (next interface{}, err error)

// Store is a path-addressed, eventually-consistent key/value tree. It is the
// only durable state and the only channel between guardian and child
// processes; implementations must make Update a conditional (transactional)
// transform, not a read-then-write.
type Store interface {
	// Get reads the value at path into dest. An absent path leaves dest
	// untouched and returns no error (dest should start zero-valued).
	Get(ctx context.Context, path string, dest interface{}) error

	// Set writes value at path, replacing whatever was there.
	Set(ctx context.Context, path string, value interface{}) error

	// Delete removes the value at path. Deleting an absent path is not an
	// error.
	Delete(ctx context.Context, path string) error

	// Push appends value under path with a store-assigned, time-ordered key
	// and returns that key.
	Push(ctx context.Context, path string, value interface{}) (string, error)

	// Update applies fn to the value at path as a single atomic transform.
	// Concurrent updates to the same path serialize; losers of a contended
	// transform re-run fn against the winner's value.
	Update(ctx context.Context, path string, fn UpdateFunc) error

	// Watch subscribes to a subtree. The returned subscription delivers one
	// snapshot per observed change until cancelled.
	Watch(ctx context.Context, path string) (*Subscription, error)
}

// Subscription is a cancelable handle on a watched subtree. C is closed when
// the subscription ends, whether by Cancel, context cancellation, or a
// non-recoverable stream failure.
type Subscription struct {
	C      <-chan Snapshot
	cancel func()
}

// NewSubscription wires a snapshot channel to its release function. Backends
// construct subscriptions through this so Cancel is always safe to call more
// than once.
func NewSubscription(c <-chan Snapshot, cancel func()) *Subscription {
	var once sync.Once
	return &Subscription{
		C:      c,
		cancel: func() { once.Do(cancel) },
	}
}

// Cancel stops delivery and releases the store-side listener. It does not
// roll back writes already observed.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// unavailable tags an underlying transport failure as retryable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
