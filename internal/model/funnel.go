package model

import (
	"strings"
	"time"
)

type FunnelStatus string

const (
	FunnelActive   FunnelStatus = "active"
	FunnelDisabled FunnelStatus = "disabled"
)

func (s FunnelStatus) String() string { return string(s) }

func (s FunnelStatus) Valid() bool {
	return s == FunnelActive || s == FunnelDisabled
}

// Funnel binds one pixel credential to one Telegram channel under a short slug.
// Slugs are immutable once issued; funnels are disabled, never deleted, so
// historical attribution keeps resolving.
type Funnel struct {
	ID          string       `db:"id"`
	AccountID   int64        `db:"account_id"`
	Name        string       `db:"name"`
	Slug        string       `db:"slug"`
	PixelRef    string       `db:"pixel_ref"`
	ChannelRef  string       `db:"channel_ref"`
	Passthrough bool         `db:"passthrough"` // forward unrecognized query params to the destination
	Status      FunnelStatus `db:"status"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

// ResolvedFunnel is the click-time view of a funnel: the funnel row plus the
// pixel and channel it references, loaded in one read.
type ResolvedFunnel struct {
	Funnel  Funnel
	Pixel   *Pixel
	Channel *Channel
}

// NormalizeSlug lowercases and trims a slug for lookup; slugs are stored lowercase.
func NormalizeSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
