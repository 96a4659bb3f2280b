package ledger

import (
	"time"
)

// Session represents one customer's check-in-to-checkout record. A session
// is created active, transitions to checked-out at most once, and is
// immutable afterward except for deletion.
type Session struct {
	ID          string     `json:"id" db:"id"`
	CardNumber  string     `json:"card_number" db:"card_number"`
	PackageType string     `json:"package_type" db:"package_type"`
	StartTime   time.Time  `json:"start_time" db:"start_time"`
	CheckedOut  bool       `json:"checked_out" db:"checked_out"`
	// CheckoutTime is nil while the session is active and set exactly once
	// at checkout. It is never an epoch-zero placeholder.
	CheckoutTime *time.Time `json:"checkout_time,omitempty" db:"checkout_time"`
}

// ReferenceTime returns the timestamp billing should measure against: the
// recorded checkout time for closed sessions, the supplied now otherwise.
func (s *Session) ReferenceTime(now time.Time) time.Time {
	if s.CheckedOut && s.CheckoutTime != nil {
		return *s.CheckoutTime
	}
	return now
}

// SessionFilter defines query parameters for listing sessions.
type SessionFilter struct {
	CheckedOut *bool
	Limit      int
	Offset     int
}
