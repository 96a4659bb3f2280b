package session

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation references a session id that
// does not exist in the ledger.
var ErrNotFound = errors.New("session not found")

// ErrAlreadyCheckedOut is returned when checkout is attempted on a session
// that is already checked out. Checkout is not idempotent: the recorded
// checkout time is never overwritten.
var ErrAlreadyCheckedOut = errors.New("session already checked out")

// ValidationError reports bad check-in input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
