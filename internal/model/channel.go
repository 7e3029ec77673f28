package model

import "time"

// Channel is a Telegram bot binding: bot token plus the invite link clicks are
// forwarded to. ChatID is resolved exactly once per valid token+link pair at
// registration time and cached here; an invalid token never acquires a chat ID.
type Channel struct {
	ID         string    `db:"id"` // internal ref (ULID)
	AccountID  int64     `db:"account_id"`
	Name       string    `db:"name"`
	BotToken   string    `db:"bot_token"`
	InviteLink string    `db:"invite_link"`
	ChatID     *int64    `db:"chat_id"` // nil until resolved
	WebhookSet bool      `db:"webhook_set"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}
