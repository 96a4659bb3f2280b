package ledger

import "time"

// Store defines the interface for session persistence backends.
type Store interface {
	// Initialize creates tables and indexes.
	Initialize() error

	// Close cleanly shuts down the store.
	Close() error

	InsertSession(s *Session) error
	GetSession(id string) (*Session, error)
	// ListSessions returns sessions in insertion order.
	ListSessions(filter SessionFilter) ([]*Session, error)
	// UpdateCheckout marks a session checked out at the given time.
	UpdateCheckout(id string, checkoutTime time.Time) error
	DeleteSession(id string) error
}
