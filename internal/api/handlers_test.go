package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spacedesk/spacedesk/internal/billing"
	"github.com/spacedesk/spacedesk/internal/config"
	"github.com/spacedesk/spacedesk/internal/ledger"
	"github.com/spacedesk/spacedesk/internal/session"
)

// memStore is an in-memory ledger.Store for handler tests.
type memStore struct {
	mu       sync.RWMutex
	sessions map[string]*ledger.Session
	order    []string
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*ledger.Session)}
}

func (m *memStore) Initialize() error { return nil }
func (m *memStore) Close() error      { return nil }

func (m *memStore) InsertSession(s *ledger.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *s
	m.sessions[s.ID] = &copy
	m.order = append(m.order, s.ID)
	return nil
}

func (m *memStore) GetSession(id string) (*ledger.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	copy := *s
	return &copy, nil
}

func (m *memStore) ListSessions(filter ledger.SessionFilter) ([]*ledger.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ledger.Session
	for _, id := range m.order {
		s := m.sessions[id]
		if filter.CheckedOut != nil && s.CheckedOut != *filter.CheckedOut {
			continue
		}
		copy := *s
		out = append(out, &copy)
	}
	return out, nil
}

func (m *memStore) UpdateCheckout(id string, checkoutTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	s.CheckedOut = true
	s.CheckoutTime = &checkoutTime
	return nil
}

func (m *memStore) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	delete(m.sessions, id)
	for i, sid := range m.order {
		if sid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func testServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	catalog := billing.NewCatalog(nil, 15000)
	mgr, err := session.NewManager(newMemStore(), catalog, slog.Default())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	srv := NewServer(config.ServerConfig{Port: 0}, mgr, catalog, slog.Default())
	return srv, mgr
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHandleCheckIn(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.Handler()

	t.Run("valid check-in", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/api/sessions",
			map[string]string{"card_number": "C-042", "package_type": "deep-work"})
		if rr.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
		}

		var sess ledger.Session
		decode(t, rr, &sess)
		if sess.CardNumber != "C-042" || sess.PackageType != "deep-work" {
			t.Errorf("session = %+v", sess)
		}
		if sess.CheckedOut || sess.CheckoutTime != nil {
			t.Error("new session must be active with no checkout time")
		}
	})

	t.Run("empty card number", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/api/sessions",
			map[string]string{"card_number": "", "package_type": "deep-work"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("unknown package", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/api/sessions",
			map[string]string{"card_number": "C-042", "package_type": "bogus"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader([]byte("{nope")))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
}

func TestHandleCheckOut(t *testing.T) {
	srv, mgr := testServer(t)
	h := srv.Handler()

	start := time.Now().UTC().Add(-5*time.Hour - 10*time.Minute)
	sess, err := mgr.CheckIn("C-042", "deep-work", start)
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	t.Run("checkout with explicit time", func(t *testing.T) {
		at := start.Add(5*time.Hour + 10*time.Minute)
		rr := doJSON(t, h, http.MethodPost, "/api/sessions/"+sess.ID+"/checkout",
			map[string]string{"checkout_time": at.Format(time.RFC3339)})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Session ledger.Session `json:"session"`
			Bill    billing.Bill   `json:"bill"`
		}
		decode(t, rr, &resp)
		if !resp.Session.CheckedOut {
			t.Error("session should be checked out")
		}
		if resp.Bill.OvertimeHours != 2 || resp.Bill.OvertimeFee != 30000 {
			t.Errorf("bill = %d hours / %d, want 2 / 30000", resp.Bill.OvertimeHours, resp.Bill.OvertimeFee)
		}
		if !resp.Bill.Final {
			t.Error("checkout bill must be final")
		}
	})

	t.Run("second checkout conflicts", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/api/sessions/"+sess.ID+"/checkout", nil)
		if rr.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rr.Code)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodPost, "/api/sessions/ses_missing/checkout", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rr.Code)
		}
	})

	t.Run("bad timestamp", func(t *testing.T) {
		other, _ := mgr.CheckIn("C-043", "fun-work", time.Now().UTC())
		rr := doJSON(t, h, http.MethodPost, "/api/sessions/"+other.ID+"/checkout",
			map[string]string{"checkout_time": "yesterday-ish"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
}

func TestHandleListSessions(t *testing.T) {
	srv, mgr := testServer(t)
	h := srv.Handler()

	now := time.Now().UTC()
	a, _ := mgr.CheckIn("C-001", "deep-work", now)
	b, _ := mgr.CheckIn("C-002", "fun-work", now)
	_, _ = mgr.CheckOut(b.ID, now.Add(time.Minute))

	t.Run("active by default", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodGet, "/api/sessions", nil)
		var resp struct {
			Sessions []ledger.Session `json:"sessions"`
			Total    int              `json:"total"`
		}
		decode(t, rr, &resp)
		if resp.Total != 1 || resp.Sessions[0].ID != a.ID {
			t.Errorf("active list = %+v", resp)
		}
	})

	t.Run("checked_out filter", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodGet, "/api/sessions?status=checked_out", nil)
		var resp struct {
			Sessions []ledger.Session `json:"sessions"`
			Total    int              `json:"total"`
		}
		decode(t, rr, &resp)
		if resp.Total != 1 || resp.Sessions[0].ID != b.ID {
			t.Errorf("checked-out list = %+v", resp)
		}
		if resp.Sessions[0].CheckoutTime == nil {
			t.Error("checked-out session missing checkout_time in JSON")
		}
	})

	t.Run("bad status value", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodGet, "/api/sessions?status=gone", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
}

func TestHandleDeleteSession(t *testing.T) {
	srv, mgr := testServer(t)
	h := srv.Handler()

	sess, _ := mgr.CheckIn("C-001", "deep-work", time.Now().UTC())

	rr := doJSON(t, h, http.MethodDelete, "/api/sessions/"+sess.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodDelete, "/api/sessions/"+sess.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
}

func TestHandleBill(t *testing.T) {
	srv, mgr := testServer(t)
	h := srv.Handler()

	start := time.Now().UTC().Add(-30 * time.Minute)
	sess, _ := mgr.CheckIn("C-001", "test", start)

	t.Run("live estimate at explicit reference", func(t *testing.T) {
		at := start.Add(11 * time.Minute).Format(time.RFC3339)
		rr := doJSON(t, h, http.MethodGet, "/api/sessions/"+sess.ID+"/bill?at="+at, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
		var bill billing.Bill
		decode(t, rr, &bill)
		if bill.OvertimeHours != 1 || bill.OvertimeFee != 15000 {
			t.Errorf("bill = %d hours / %d, want 1 / 15000", bill.OvertimeHours, bill.OvertimeFee)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		rr := doJSON(t, h, http.MethodGet, "/api/sessions/ses_missing/bill", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rr.Code)
		}
	})

	t.Run("checked-out bill ignores at", func(t *testing.T) {
		end := start.Add(5 * time.Minute)
		if _, err := mgr.CheckOut(sess.ID, end); err != nil {
			t.Fatalf("CheckOut: %v", err)
		}

		// A later reference must not grow the final bill.
		at := start.Add(3 * time.Hour).Format(time.RFC3339)
		rr := doJSON(t, h, http.MethodGet, "/api/sessions/"+sess.ID+"/bill?at="+at, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
		var bill billing.Bill
		decode(t, rr, &bill)
		if !bill.Final {
			t.Error("bill after checkout must be final")
		}
		if bill.OvertimeHours != 0 || bill.OvertimeFee != 0 {
			t.Errorf("final bill = %d hours / %d, want 0 / 0", bill.OvertimeHours, bill.OvertimeFee)
		}
		if !bill.ReferenceTime.Equal(end) {
			t.Errorf("ReferenceTime = %v, want checkout time %v", bill.ReferenceTime, end)
		}
	})
}

func TestHandleStats(t *testing.T) {
	srv, mgr := testServer(t)
	h := srv.Handler()

	now := time.Now().UTC()
	// One active session 70 minutes into a 1-hour package: 1 overtime hour.
	_, _ = mgr.CheckIn("C-001", "fun-work", now.Add(-70*time.Minute))
	// One on a 4-hour package, no overtime yet.
	_, _ = mgr.CheckIn("C-002", "deep-work", now.Add(-time.Hour))
	// One checked out; not counted toward accruing overtime.
	closed, _ := mgr.CheckIn("C-003", "fun-work", now.Add(-2*time.Hour))
	_, _ = mgr.CheckOut(closed.ID, now.Add(-time.Minute))

	rr := doJSON(t, h, http.MethodGet, "/api/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var stats Stats
	decode(t, rr, &stats)
	if stats.ActiveSessions != 2 {
		t.Errorf("ActiveSessions = %d, want 2", stats.ActiveSessions)
	}
	if stats.CheckedOutSessions != 1 {
		t.Errorf("CheckedOutSessions = %d, want 1", stats.CheckedOutSessions)
	}
	if stats.TotalOvertimeFee != 15000 {
		t.Errorf("TotalOvertimeFee = %d, want 15000", stats.TotalOvertimeFee)
	}
}

func TestHandlePackagesAndHealth(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.Handler()

	rr := doJSON(t, h, http.MethodGet, "/api/packages", nil)
	var pkgResp struct {
		Packages     []billing.Package `json:"packages"`
		OvertimeRate int64             `json:"overtime_rate"`
	}
	decode(t, rr, &pkgResp)
	if len(pkgResp.Packages) != 4 {
		t.Errorf("len(packages) = %d, want 4", len(pkgResp.Packages))
	}
	if pkgResp.OvertimeRate != 15000 {
		t.Errorf("overtime_rate = %d, want 15000", pkgResp.OvertimeRate)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rr.Code)
	}
}
