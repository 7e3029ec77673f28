package repository

import (
	"context"

	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHEventsRepository appends and lists attribution events in ClickHouse.
type CHEventsRepository interface {
	Insert(ctx context.Context, e model.AttributionEvent) error
	ListByAccount(ctx context.Context, accountID int64, funnelID string, outcome model.ClickOutcome, limit, offset int) ([]model.AttributionEvent, error)
}

type chEventsRepo struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepo{ch: ch}
}

func (r *chEventsRepo) Insert(ctx context.Context, e model.AttributionEvent) error {
	_, err := r.ch.ExecContext(ctx, `
		INSERT INTO tracktg.attribution_events
		    (id, account_id, funnel_id, slug, visitor_id, fbclid, fbc, fbp, ip, user_agent, outcome, clicked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.AccountID, e.FunnelID, e.Slug, e.VisitorID,
		e.FBCLID, e.FBC, e.FBP, e.IP, e.UserAgent, e.Outcome.String(), e.ClickedAt)
	return err
}

func (r *chEventsRepo) ListByAccount(ctx context.Context, accountID int64, funnelID string, outcome model.ClickOutcome, limit, offset int) ([]model.AttributionEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, account_id, funnel_id, slug, visitor_id, fbclid, fbc, fbp, ip, user_agent, outcome, clicked_at
		FROM tracktg.attribution_events
		WHERE account_id = ?
	`
	args := []any{accountID}

	if funnelID != "" {
		q += " AND funnel_id = ?"
		args = append(args, funnelID)
	}
	if outcome != "" {
		q += " AND outcome = ?"
		args = append(args, outcome.String())
	}

	q += " ORDER BY clicked_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.AttributionEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
