package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/jmoiron/sqlx"
)

// UsageRepository persists per-account usage counters. GetForUpdate takes the
// row lock the atomic debit depends on; callers own the surrounding
// transaction.
type UsageRepository interface {
	Ensure(ctx context.Context, tx *sqlx.Tx, accountID, defaultLimit int64, window time.Duration) error
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, accountID int64) (model.UsageCounter, error)
	Save(ctx context.Context, tx *sqlx.Tx, c model.UsageCounter) error
	Get(ctx context.Context, accountID int64) (model.UsageCounter, error)
	SetLimit(ctx context.Context, accountID, limit int64) error
}

type usageRepo struct {
	db *sqlx.DB
}

func NewUsageRepository(db *sqlx.DB) UsageRepository { return &usageRepo{db: db} }

func (r *usageRepo) Ensure(ctx context.Context, tx *sqlx.Tx, accountID, defaultLimit int64, window time.Duration) error {
	now := time.Now()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO usage_counters (account_id, window_start, window_end, used, quota_limit, updated_at)
		VALUES (?, ?, ?, 0, ?, NOW())
		ON DUPLICATE KEY UPDATE account_id = account_id
	`, accountID, now, now.Add(window), defaultLimit)
	return err
}

func (r *usageRepo) GetForUpdate(ctx context.Context, tx *sqlx.Tx, accountID int64) (model.UsageCounter, error) {
	var c model.UsageCounter
	err := tx.QueryRowxContext(ctx, `
		SELECT account_id, window_start, window_end, used, quota_limit, updated_at
		FROM usage_counters
		WHERE account_id = ?
		FOR UPDATE
	`, accountID).StructScan(&c)
	return c, err
}

func (r *usageRepo) Save(ctx context.Context, tx *sqlx.Tx, c model.UsageCounter) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE usage_counters
		SET window_start = ?, window_end = ?, used = ?, updated_at = NOW()
		WHERE account_id = ?
	`, c.WindowStart, c.WindowEnd, c.Used, c.AccountID)
	return err
}

func (r *usageRepo) Get(ctx context.Context, accountID int64) (model.UsageCounter, error) {
	var c model.UsageCounter
	err := r.db.GetContext(ctx, &c, `
		SELECT account_id, window_start, window_end, used, quota_limit, updated_at
		FROM usage_counters
		WHERE account_id = ?
	`, accountID)
	if err == sql.ErrNoRows {
		return model.UsageCounter{AccountID: accountID}, nil
	}
	return c, err
}

// SetLimit applies a plan change. Only the limit moves; used and the window
// are left alone so the change takes effect on the very next debit.
func (r *usageRepo) SetLimit(ctx context.Context, accountID, limit int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE usage_counters
		SET quota_limit = ?, updated_at = NOW()
		WHERE account_id = ?
	`, limit, accountID)
	return err
}
