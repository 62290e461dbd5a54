package sessions

import (
	"errors"
	"fmt"
)

// ErrNoFreeSessionID is returned when every generated session code was
// already taken.
var ErrNoFreeSessionID = errors.New("no free session id")

// StoreError reports that the remote store was unreachable or rejected an
// operation. It is never used for an absent session.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err is or wraps a *StoreError.
func IsStoreError(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}
