// Package telegram is the channel-validation collaborator: it proves a bot
// token works and resolves an invite link to a chat ID, once, at registration
// time. The click-time redirect never talks to Telegram.
package telegram

import (
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var (
	ErrInvalidToken = errors.New("bot token rejected by telegram")
	// ErrUnresolvable covers private invite links (t.me/+hash): their chat
	// cannot be looked up by username, so the channel must expose a public one.
	ErrUnresolvable = errors.New("invite link cannot be resolved to a chat")
)

// BotIdentity is what getMe returns for a valid token.
type BotIdentity struct {
	ID       int64
	Username string
}

type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

// ValidateToken round-trips the token via getMe.
func (v *Validator) ValidateToken(token string) (BotIdentity, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return BotIdentity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return BotIdentity{ID: bot.Self.ID, Username: bot.Self.UserName}, nil
}

// ResolveChatID maps a public invite link to its chat ID using the already
// validated token. Invalid tokens never reach getChat, so they never acquire
// a chat ID.
func (v *Validator) ResolveChatID(token, inviteLink string) (int64, error) {
	username, err := UsernameFromInviteLink(inviteLink)
	if err != nil {
		return 0, err
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	chat, err := bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: "@" + username},
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}
	return chat.ID, nil
}

// UsernameFromInviteLink extracts the public username from t.me/<name>,
// telegram.me/<name>, or a bare @<name>.
func UsernameFromInviteLink(link string) (string, error) {
	s := strings.TrimSpace(link)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")

	switch {
	case strings.HasPrefix(s, "t.me/"):
		s = strings.TrimPrefix(s, "t.me/")
	case strings.HasPrefix(s, "telegram.me/"):
		s = strings.TrimPrefix(s, "telegram.me/")
	case strings.HasPrefix(s, "@"):
		s = strings.TrimPrefix(s, "@")
	default:
		return "", ErrUnresolvable
	}

	s = strings.SplitN(s, "?", 2)[0]
	s = strings.TrimSuffix(s, "/")
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "joinchat") {
		return "", ErrUnresolvable
	}
	return s, nil
}
