package repository

import (
	"context"
	"database/sql"

	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/jmoiron/sqlx"
)

type PixelsRepository interface {
	Insert(ctx context.Context, p model.Pixel) error
	// GetByID returns (nil, nil) when the pixel is unknown.
	GetByID(ctx context.Context, id string) (*model.Pixel, error)
	SetStatus(ctx context.Context, id string, status model.PixelStatus) error
	SetCredentials(ctx context.Context, id, accessToken string, status model.PixelStatus) error
}

type pixelsRepo struct {
	db *sqlx.DB
}

func NewPixelsRepository(db *sqlx.DB) PixelsRepository { return &pixelsRepo{db: db} }

func (r *pixelsRepo) Insert(ctx context.Context, p model.Pixel) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pixels
		    (id, account_id, name, pixel_id, access_token, status, created_at, updated_at)
		VALUES
		    (?,  ?,          ?,    ?,        ?,            ?,      NOW(),      NOW())
	`, p.ID, p.AccountID, p.Name, p.PixelID, p.AccessToken, p.Status.String())
	return err
}

func (r *pixelsRepo) GetByID(ctx context.Context, id string) (*model.Pixel, error) {
	var p model.Pixel
	err := r.db.GetContext(ctx, &p, `
		SELECT id, account_id, name, pixel_id, access_token, status, created_at, updated_at
		  FROM pixels WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetStatus is how the forwarder marks a pixel invalid on auth rejection.
func (r *pixelsRepo) SetStatus(ctx context.Context, id string, status model.PixelStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pixels SET status = ?, updated_at = NOW() WHERE id = ?
	`, status.String(), id)
	return err
}

// SetCredentials is the re-validation write: the (possibly replaced) token and
// the status the round-trip produced land together.
func (r *pixelsRepo) SetCredentials(ctx context.Context, id, accessToken string, status model.PixelStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pixels SET access_token = ?, status = ?, updated_at = NOW() WHERE id = ?
	`, accessToken, status.String(), id)
	return err
}
