package model

import "time"

type PixelStatus string

const (
	PixelUnvalidated PixelStatus = "unvalidated"
	PixelValid       PixelStatus = "valid"
	PixelInvalid     PixelStatus = "invalid"
)

func (s PixelStatus) String() string { return string(s) }

func (s PixelStatus) Valid() bool {
	return s == PixelUnvalidated || s == PixelValid || s == PixelInvalid
}

// Pixel holds a Facebook pixel ID and its Conversions API access token.
// Status moves to valid only after a successful round-trip against the Graph
// API, to invalid when the platform rejects the token, and stays unvalidated
// while no round-trip has completed. Re-validation can move it back to valid.
type Pixel struct {
	ID          string      `db:"id"` // internal ref (ULID)
	AccountID   int64       `db:"account_id"`
	Name        string      `db:"name"`
	PixelID     string      `db:"pixel_id"` // platform-side pixel ID
	AccessToken string      `db:"access_token"`
	Status      PixelStatus `db:"status"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}
