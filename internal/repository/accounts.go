package repository

import (
	"context"
	"database/sql"

	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/jmoiron/sqlx"
)

type AccountsRepository interface {
	// GetByAPIKey returns (nil, nil) when no account matches.
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Account, error)
	SetPlan(ctx context.Context, accountID int64, plan string) error
}

type accountsRepo struct {
	db *sqlx.DB
}

func NewAccountsRepository(db *sqlx.DB) AccountsRepository { return &accountsRepo{db: db} }

func (r *accountsRepo) GetByAPIKey(ctx context.Context, apiKey string) (*model.Account, error) {
	var a model.Account
	err := r.db.GetContext(ctx, &a, `
		SELECT id, name, api_key, status, plan, rate_limit_rps, created_at, updated_at
		  FROM accounts
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *accountsRepo) SetPlan(ctx context.Context, accountID int64, plan string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET plan = ?, updated_at = NOW() WHERE id = ?
	`, plan, accountID)
	return err
}
