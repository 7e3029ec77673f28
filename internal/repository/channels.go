package repository

import (
	"context"
	"database/sql"

	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/jmoiron/sqlx"
)

type ChannelsRepository interface {
	Insert(ctx context.Context, ch model.Channel) error
	// GetByID returns (nil, nil) when the channel is unknown.
	GetByID(ctx context.Context, id string) (*model.Channel, error)
}

type channelsRepo struct {
	db *sqlx.DB
}

func NewChannelsRepository(db *sqlx.DB) ChannelsRepository { return &channelsRepo{db: db} }

func (r *channelsRepo) Insert(ctx context.Context, ch model.Channel) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channels
		    (id, account_id, name, bot_token, invite_link, chat_id, webhook_set, created_at, updated_at)
		VALUES
		    (?,  ?,          ?,    ?,         ?,           ?,       ?,           NOW(),      NOW())
	`, ch.ID, ch.AccountID, ch.Name, ch.BotToken, ch.InviteLink, ch.ChatID, ch.WebhookSet)
	return err
}

func (r *channelsRepo) GetByID(ctx context.Context, id string) (*model.Channel, error) {
	var ch model.Channel
	err := r.db.GetContext(ctx, &ch, `
		SELECT id, account_id, name, bot_token, invite_link, chat_id, webhook_set, created_at, updated_at
		  FROM channels WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}
