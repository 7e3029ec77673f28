package model

import "time"

type ClickOutcome string

const (
	OutcomeAllowed       ClickOutcome = "allowed"
	OutcomeQuotaDenied   ClickOutcome = "quota_denied"
	OutcomeFunnelMissing ClickOutcome = "funnel_missing"
	OutcomeDisabled      ClickOutcome = "funnel_disabled"
	OutcomeInternalError ClickOutcome = "internal_error"
)

func (o ClickOutcome) String() string { return string(o) }

func (o ClickOutcome) Valid() bool {
	switch o {
	case OutcomeAllowed, OutcomeQuotaDenied, OutcomeFunnelMissing, OutcomeDisabled, OutcomeInternalError:
		return true
	}
	return false
}

// AttributionEvent is one tracking-link hit, append-only once written.
// Optional attribution fields are pointers: nil means the parameter was absent
// on the wire, which is distinct from an empty string.
type AttributionEvent struct {
	ID        string       `db:"id" json:"id"`
	AccountID int64        `db:"account_id" json:"account_id"`
	FunnelID  string       `db:"funnel_id" json:"funnel_id"` // empty for unknown slugs
	Slug      string       `db:"slug" json:"slug"`
	VisitorID string       `db:"visitor_id" json:"visitor_id"`
	FBCLID    *string      `db:"fbclid" json:"fbclid,omitempty"`
	FBC       *string      `db:"fbc" json:"fbc,omitempty"`
	FBP       *string      `db:"fbp" json:"fbp,omitempty"`
	IP        string       `db:"ip" json:"ip"`
	UserAgent string       `db:"user_agent" json:"user_agent"`
	Outcome   ClickOutcome `db:"outcome" json:"outcome"`
	ClickedAt time.Time    `db:"clicked_at" json:"clicked_at"`
}
