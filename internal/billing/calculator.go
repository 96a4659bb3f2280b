// Package billing computes elapsed time, overtime hours, and overtime fees
// for coworking sessions. All functions are pure: the reference timestamp is
// always an explicit input, never read from a clock.
package billing

import (
	"math"
	"time"

	"github.com/spacedesk/spacedesk/internal/ledger"
)

// DefaultOvertimeRate is the flat per-hour overtime rate in the smallest
// currency unit (VND has no sub-units).
const DefaultOvertimeRate int64 = 15000

// HourlyFee is one line of an overtime fee schedule.
type HourlyFee struct {
	Hour int   `json:"hour"`
	Fee  int64 `json:"fee"`
}

// Bill is the outcome of a single billing decision for a session. Elapsed
// time is computed once and every derived figure comes from that one value,
// so the hour count, total fee, and schedule always agree.
type Bill struct {
	SessionID      string      `json:"session_id"`
	CardNumber     string      `json:"card_number"`
	PackageType    string      `json:"package_type"`
	PackageName    string      `json:"package_name"`
	AllottedHours  float64     `json:"allotted_hours"`
	ElapsedHours   float64     `json:"elapsed_hours"`
	RemainingHours float64     `json:"remaining_hours"`
	OvertimeHours  int         `json:"overtime_hours"`
	OvertimeFee    int64       `json:"overtime_fee"`
	Schedule       []HourlyFee `json:"schedule,omitempty"`
	ReferenceTime  time.Time   `json:"reference_time"`
	Final          bool        `json:"final"`
}

// ElapsedHours returns the fractional hours between start and ref.
// Precondition: ref >= start. Callers construct ref from either the
// session's checkout time or an explicit "now"; the result is not clamped.
func ElapsedHours(start, ref time.Time) float64 {
	return ref.Sub(start).Hours()
}

// OvertimeHours returns the number of billable overtime hours. Any partial
// hour over the allotment rounds up to a full hour: one minute over bills
// as 1, two and a half hours over bills as 3. Exactly at the allotment, or
// exactly on a whole-hour boundary, does not round up further.
func OvertimeHours(elapsedHours, allottedHours float64) int {
	raw := elapsedHours - allottedHours
	if raw <= 0 {
		return 0
	}
	return int(math.Ceil(raw))
}

// OvertimeFee returns the total fee for the given whole overtime hours.
func OvertimeFee(overtimeHours int, rate int64) int64 {
	if overtimeHours <= 0 {
		return 0
	}
	return int64(overtimeHours) * rate
}

// FeeSchedule returns one entry per overtime hour, Hour running 1..n. The
// rate is flat today, but consumers must read each entry's Fee rather than
// assume all entries are equal.
func FeeSchedule(overtimeHours int, rate int64) []HourlyFee {
	if overtimeHours <= 0 {
		return nil
	}
	schedule := make([]HourlyFee, 0, overtimeHours)
	for i := 1; i <= overtimeHours; i++ {
		schedule = append(schedule, HourlyFee{Hour: i, Fee: rate})
	}
	return schedule
}

// ComputeBill produces the bill for a session against the given package at
// the given reference time. For checked-out sessions ref should be the
// recorded checkout time (the bill is final); for active sessions ref is
// the caller's "now" (a live estimate).
func ComputeBill(sess *ledger.Session, pkg Package, ref time.Time, rate int64) *Bill {
	elapsed := ElapsedHours(sess.StartTime, ref)
	hours := OvertimeHours(elapsed, pkg.Hours)

	remaining := pkg.Hours - elapsed
	if remaining < 0 {
		remaining = 0
	}

	return &Bill{
		SessionID:      sess.ID,
		CardNumber:     sess.CardNumber,
		PackageType:    sess.PackageType,
		PackageName:    pkg.Name,
		AllottedHours:  pkg.Hours,
		ElapsedHours:   elapsed,
		RemainingHours: remaining,
		OvertimeHours:  hours,
		OvertimeFee:    OvertimeFee(hours, rate),
		Schedule:       FeeSchedule(hours, rate),
		ReferenceTime:  ref,
		Final:          sess.CheckedOut,
	}
}
