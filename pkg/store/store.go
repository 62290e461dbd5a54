package store

import (
	"context"
	"encoding/json"
)

// UpdateFunc computes the next value of a key from its current value.
// current is nil when the key is absent. Returning ErrAbortTransaction
// cancels the update without error; any other error aborts and is returned.
type UpdateFunc func(current json.RawMessage) (json.RawMessage, error)

// TransactionResult is the outcome of an AtomicUpdate.
type TransactionResult struct {
	Committed bool
	// Value is the committed value, or the value observed when aborted.
	Value json.RawMessage
}

// ChangeHandler receives the full value of a key after every change.
// value is nil when the key was removed.
type ChangeHandler func(key string, value json.RawMessage)

// ErrorHandler receives errors raised while watching a key.
type ErrorHandler func(key string, err error)

// SubscriptionID identifies a registered change handler.
type SubscriptionID uint64

// Store is a remote key/value store of JSON values.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value at key or an ErrNotFound.
	Get(ctx context.Context, key string) (json.RawMessage, error)
	// Set replaces the value at key.
	Set(ctx context.Context, key string, value json.RawMessage) error
	// Update merges the given top level fields into the object at key.
	Update(ctx context.Context, key string, fields map[string]json.RawMessage) error
	// AtomicUpdate runs fn against the current value and commits its result
	// only if no other writer changed the key in between.
	AtomicUpdate(ctx context.Context, key string, fn UpdateFunc) (TransactionResult, error)
	// Remove deletes the value at key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Subscribe registers handlers for changes of key. Changes made
	// through one store are delivered in commit order; handlers must not
	// write to the store.
	Subscribe(key string, onChange ChangeHandler, onError ErrorHandler) SubscriptionID
	// Unsubscribe removes a subscription. Unknown ids are ignored.
	Unsubscribe(id SubscriptionID)
	Close(ctx context.Context) error
}
