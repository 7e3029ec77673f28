package model

import "time"

type Account struct {
	ID           int64     `db:"id"`
	Name         string    `db:"name"`
	APIKey       string    `db:"api_key"`
	Status       string    `db:"status"` // active|suspended
	Plan         string    `db:"plan"`   // starter|pro|enterprise
	RateLimitRPS *int      `db:"rate_limit_rps"` // nullable, overrides the default
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}
