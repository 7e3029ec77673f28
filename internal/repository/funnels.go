package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// ErrDuplicateSlug is returned when a funnel insert hits the slug unique key.
var ErrDuplicateSlug = errors.New("slug already exists")

type FunnelsRepository interface {
	// GetBySlug loads a funnel with its pixel and channel in one round-trip.
	// Returns (nil, nil) when the slug is unknown.
	GetBySlug(ctx context.Context, slug string) (*model.ResolvedFunnel, error)
	Insert(ctx context.Context, f model.Funnel) error
	SetStatus(ctx context.Context, accountID int64, slug string, status model.FunnelStatus) error
	CountByAccount(ctx context.Context, accountID int64) (int64, error)
}

type funnelsRepo struct {
	db *sqlx.DB
}

func NewFunnelsRepository(db *sqlx.DB) FunnelsRepository { return &funnelsRepo{db: db} }

func (r *funnelsRepo) GetBySlug(ctx context.Context, slug string) (*model.ResolvedFunnel, error) {
	var f model.Funnel
	err := r.db.GetContext(ctx, &f, `
		SELECT id, account_id, name, slug, pixel_ref, channel_ref, passthrough, status, created_at, updated_at
		  FROM funnels
		 WHERE slug = ? LIMIT 1
	`, slug)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res := &model.ResolvedFunnel{Funnel: f}

	var px model.Pixel
	err = r.db.GetContext(ctx, &px, `
		SELECT id, account_id, name, pixel_id, access_token, status, created_at, updated_at
		  FROM pixels WHERE id = ? LIMIT 1
	`, f.PixelRef)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err == nil {
		res.Pixel = &px
	}

	var ch model.Channel
	err = r.db.GetContext(ctx, &ch, `
		SELECT id, account_id, name, bot_token, invite_link, chat_id, webhook_set, created_at, updated_at
		  FROM channels WHERE id = ? LIMIT 1
	`, f.ChannelRef)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err == nil {
		res.Channel = &ch
	}

	return res, nil
}

func (r *funnelsRepo) Insert(ctx context.Context, f model.Funnel) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO funnels
		    (id, account_id, name, slug, pixel_ref, channel_ref, passthrough, status, created_at, updated_at)
		VALUES
		    (?,  ?,          ?,    ?,    ?,         ?,           ?,           'active', NOW(),    NOW())
	`, f.ID, f.AccountID, f.Name, f.Slug, f.PixelRef, f.ChannelRef, f.Passthrough)

	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return ErrDuplicateSlug
	}
	return err
}

func (r *funnelsRepo) SetStatus(ctx context.Context, accountID int64, slug string, status model.FunnelStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE funnels SET status = ?, updated_at = NOW()
		 WHERE account_id = ? AND slug = ?
	`, status.String(), accountID, slug)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *funnelsRepo) CountByAccount(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM funnels WHERE account_id = ?`, accountID)
	return n, err
}
