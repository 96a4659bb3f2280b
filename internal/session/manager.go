// Package session manages the ledger of customer sessions with in-memory
// state backed by persistent storage.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/spacedesk/spacedesk/internal/billing"
	"github.com/spacedesk/spacedesk/internal/ledger"
)

const sessionIDPrefix = "ses_"

// Manager owns the authoritative collection of sessions. All mutations go
// through it; reads are side-effect free. Every operation takes its
// reference timestamp as an explicit parameter; the Manager never reads
// the clock itself. A mutation persists to the store first and commits to
// memory only on success, so a failed operation leaves the ledger in its
// prior state. Sessions handed out are snapshots taken under the lock;
// callers never share memory with the ledger's own records.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*ledger.Session
	order    []string // session IDs in creation order
	store    ledger.Store
	catalog  *billing.Catalog
	logger   *slog.Logger
}

// NewManager creates a session manager backed by the given store and
// restores all previously persisted sessions into memory.
func NewManager(store ledger.Store, catalog *billing.Catalog, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		sessions: make(map[string]*ledger.Session),
		store:    store,
		catalog:  catalog,
		logger:   logger.With("component", "session.Manager"),
	}

	existing, err := store.ListSessions(ledger.SessionFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to restore sessions: %w", err)
	}
	for _, sess := range existing {
		m.sessions[sess.ID] = sess
		m.order = append(m.order, sess.ID)
	}
	if len(existing) > 0 {
		m.logger.Info("restored sessions from store", "count", len(existing))
	}
	return m, nil
}

// CheckIn creates a new active session for the given card and package,
// starting at now. Returns a *ValidationError for an empty card number or
// an unknown package type.
func (m *Manager) CheckIn(cardNumber, packageType string, now time.Time) (*ledger.Session, error) {
	if cardNumber == "" {
		return nil, &ValidationError{Field: "card_number", Reason: "must not be empty"}
	}
	if !m.catalog.Has(packageType) {
		return nil, &ValidationError{Field: "package_type", Reason: fmt.Sprintf("unknown package %q", packageType)}
	}

	sess := &ledger.Session{
		ID:          sessionIDPrefix + ulid.Make().String(),
		CardNumber:  cardNumber,
		PackageType: packageType,
		StartTime:   now,
	}

	if err := m.store.InsertSession(sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	stored := *sess
	m.mu.Lock()
	m.sessions[sess.ID] = &stored
	m.order = append(m.order, sess.ID)
	m.mu.Unlock()

	m.logger.Info("checked in",
		"session_id", sess.ID,
		"card_number", cardNumber,
		"package_type", packageType,
	)
	return sess, nil
}

// CheckOut transitions a session to its terminal checked-out state,
// recording now as the checkout time, and returns the updated session.
// Returns ErrNotFound for an unknown id and ErrAlreadyCheckedOut if the
// session is already closed.
func (m *Manager) CheckOut(id string, now time.Time) (*ledger.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("checkout %s: %w", id, ErrNotFound)
	}
	if sess.CheckedOut {
		return nil, fmt.Errorf("checkout %s: %w", id, ErrAlreadyCheckedOut)
	}
	if now.Before(sess.StartTime) {
		return nil, &ValidationError{Field: "checkout_time", Reason: "precedes check-in time"}
	}

	if err := m.store.UpdateCheckout(id, now); err != nil {
		return nil, fmt.Errorf("failed to persist checkout: %w", err)
	}

	checkout := now
	sess.CheckedOut = true
	sess.CheckoutTime = &checkout

	m.logger.Info("checked out",
		"session_id", id,
		"card_number", sess.CardNumber,
		"elapsed_hours", billing.ElapsedHours(sess.StartTime, now),
	)
	snap := *sess
	return &snap, nil
}

// Delete removes a session from the ledger regardless of its state.
// Returns ErrNotFound for an unknown id.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}

	if err := m.store.DeleteSession(id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	delete(m.sessions, id)
	for i, sid := range m.order {
		if sid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	m.logger.Info("deleted session",
		"session_id", id,
		"card_number", sess.CardNumber,
		"checked_out", sess.CheckedOut,
	)
	return nil
}

// Get returns the session with the given id, or ErrNotFound.
func (m *Manager) Get(id string) (*ledger.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	snap := *sess
	return &snap, nil
}

// ListActive returns all active sessions in creation order.
func (m *Manager) ListActive() []*ledger.Session {
	return m.list(func(s *ledger.Session) bool { return !s.CheckedOut })
}

// ListCheckedOut returns all checked-out sessions in creation order.
func (m *Manager) ListCheckedOut() []*ledger.Session {
	return m.list(func(s *ledger.Session) bool { return s.CheckedOut })
}

func (m *Manager) list(keep func(*ledger.Session) bool) []*ledger.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ledger.Session, 0, len(m.order))
	for _, id := range m.order {
		if sess, ok := m.sessions[id]; ok && keep(sess) {
			snap := *sess
			out = append(out, &snap)
		}
	}
	return out
}

// ActiveCount returns the number of currently active sessions.
func (m *Manager) ActiveCount() int {
	return len(m.ListActive())
}

// Bill computes the bill for a session at the given reference time: the
// final bill for checked-out sessions, a live estimate otherwise. Read-only.
func (m *Manager) Bill(id string, now time.Time) (*billing.Bill, error) {
	m.mu.RLock()
	stored, ok := m.sessions[id]
	var sess ledger.Session
	if ok {
		sess = *stored
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("bill %s: %w", id, ErrNotFound)
	}

	pkg, ok := m.catalog.Get(sess.PackageType)
	if !ok {
		return nil, fmt.Errorf("bill %s: unknown package %q", id, sess.PackageType)
	}
	return billing.ComputeBill(&sess, pkg, sess.ReferenceTime(now), m.catalog.OvertimeRate()), nil
}
