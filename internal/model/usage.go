package model

import "time"

// UsageCounter is the single source of truth for an account's click quota in
// the current billing window. It is mutated only by the gate's atomic debit
// (which also performs window rollover) and by plan changes, which touch the
// limit alone and never rewind Used.
type UsageCounter struct {
	AccountID   int64     `db:"account_id"`
	WindowStart time.Time `db:"window_start"`
	WindowEnd   time.Time `db:"window_end"`
	Used        int64     `db:"used"`
	Limit       int64     `db:"quota_limit"`
	UpdatedAt   time.Time `db:"updated_at"`
}
