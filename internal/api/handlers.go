package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/spacedesk/spacedesk/internal/billing"
	"github.com/spacedesk/spacedesk/internal/ledger"
	"github.com/spacedesk/spacedesk/internal/session"
)

// --- Sessions ---

type checkInRequest struct {
	CardNumber  string `json:"card_number"`
	PackageType string `json:"package_type"`
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.sessions.CheckIn(req.CardNumber, req.PackageType, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var sessions []*ledger.Session
	switch r.URL.Query().Get("status") {
	case "", "active":
		sessions = s.sessions.ListActive()
	case "checked_out":
		sessions = s.sessions.ListCheckedOut()
	default:
		writeError(w, http.StatusBadRequest, "status must be active or checked_out")
		return
	}

	writeJSON(w, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	bill, err := s.sessions.Bill(id, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"session": sess,
		"bill":    bill,
	})
}

type checkOutRequest struct {
	CheckoutTime string `json:"checkout_time,omitempty"`
}

func (s *Server) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Optional explicit checkout timestamp; defaults to server now.
	now := time.Now().UTC()
	if r.Body != nil && r.ContentLength != 0 {
		var req checkOutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.CheckoutTime != "" {
			t, err := time.Parse(time.RFC3339, req.CheckoutTime)
			if err != nil {
				writeError(w, http.StatusBadRequest, "checkout_time must be RFC3339")
				return
			}
			now = t.UTC()
		}
	}

	sess, err := s.sessions.CheckOut(id, now)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Final bill measured at the recorded checkout time.
	bill, err := s.sessions.Bill(id, now)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"session": sess,
		"bill":    bill,
	})
}

// handleBill returns a live estimate at now, or at ?at= if given. For a
// checked-out session the bill is always pinned to its checkout time and
// ?at= has no effect.
func (s *Server) handleBill(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ref := time.Now().UTC()
	if at := r.URL.Query().Get("at"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be RFC3339")
			return
		}
		ref = t.UTC()
	}

	bill, err := s.sessions.Bill(id, ref)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, bill)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Delete(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "deleted"})
}

// --- Packages ---

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"packages":      s.catalog.List(),
		"overtime_rate": s.catalog.OvertimeRate(),
	})
}

// --- System ---

// Stats mirrors the front-desk stats bar: headcounts plus the overtime fee
// currently accrued across all active sessions.
type Stats struct {
	ActiveSessions     int   `json:"active_sessions"`
	CheckedOutSessions int   `json:"checked_out_sessions"`
	TotalOvertimeFee   int64 `json:"total_overtime_fee"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	active := s.sessions.ListActive()

	var total int64
	for _, sess := range active {
		pkg, ok := s.catalog.Get(sess.PackageType)
		if !ok {
			continue
		}
		total += billing.ComputeBill(sess, pkg, now, s.catalog.OvertimeRate()).OvertimeFee
	}

	writeJSON(w, Stats{
		ActiveSessions:     len(active),
		CheckedOutSessions: len(s.sessions.ListCheckedOut()),
		TotalOvertimeFee:   total,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- Helpers ---

func writeDomainError(w http.ResponseWriter, err error) {
	var verr *session.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrAlreadyCheckedOut):
		writeError(w, http.StatusConflict, "session already checked out")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
