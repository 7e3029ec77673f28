// Package quota implements the atomic check-and-debit over per-account usage
// counters. The debit decision itself is a pure function so the SQL-backed
// gate (row lock inside a transaction) and the in-memory gate (mutex per
// account) share one rollover and limit semantics.
package quota

import (
	"errors"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/model"
)

// ErrUnavailable wraps any infrastructure failure underneath a gate. The
// pipeline must treat it as distinct from a denial.
var ErrUnavailable = errors.New("quota store unavailable")

// Outcome is the result of one debit attempt.
type Outcome struct {
	Allowed   bool
	Used      int64 // counter value after the attempt
	Limit     int64
	Remaining int64
}

// Apply performs window rollover and the check-and-increment against a counter
// value, returning the updated counter and the outcome. Callers must make the
// read-apply-write cycle atomic (row lock or CAS); Apply itself has no side
// effects.
//
// Rollover: when now has passed WindowEnd the window advances by whole periods
// until it covers now, and Used resets to zero exactly once. The period length
// is WindowEnd-WindowStart, so plan changes that only touch Limit never shift
// the window.
func Apply(c model.UsageCounter, now time.Time) (model.UsageCounter, Outcome) {
	if period := c.WindowEnd.Sub(c.WindowStart); period > 0 && !now.Before(c.WindowEnd) {
		elapsed := now.Sub(c.WindowStart)
		steps := elapsed / period
		c.WindowStart = c.WindowStart.Add(steps * period)
		c.WindowEnd = c.WindowStart.Add(period)
		c.Used = 0
	}

	out := Outcome{Limit: c.Limit}
	if c.Used < c.Limit {
		c.Used++
		out.Allowed = true
	}
	out.Used = c.Used
	out.Remaining = c.Limit - c.Used
	if out.Remaining < 0 {
		out.Remaining = 0
	}
	return c, out
}
