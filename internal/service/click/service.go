// Package click owns the quota-debit transaction on the redirect hot path.
package click

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/fiverlaine/tracktelegram/internal/quota"
	"github.com/fiverlaine/tracktelegram/internal/repository"
	"github.com/jmoiron/sqlx"
)

// ConversionsKafkaTopic is where the outbox relay publishes envelopes.
const ConversionsKafkaTopic = "conversions"

// Service performs the atomic check-and-debit of an account's usage counter
// and, when the click is allowed, queues the conversion envelope in the outbox
// within the same transaction. Window rollover happens inside the same row
// lock, so no separate reset job can race live debits.
type Service struct {
	db     *sqlx.DB
	usage  repository.UsageRepository
	outbox repository.OutboxRepository

	defaultLimit int64
	window       time.Duration
	now          func() time.Time
}

func New(db *sqlx.DB, usageRepo repository.UsageRepository, outboxRepo repository.OutboxRepository, defaultLimit int64, window time.Duration) *Service {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &Service{
		db:           db,
		usage:        usageRepo,
		outbox:       outboxRepo,
		defaultLimit: defaultLimit,
		window:       window,
		now:          time.Now,
	}
}

// TryDebit applies one debit against the account's counter. On Allowed with a
// non-nil envelope the envelope is inserted into the outbox in the same
// transaction. On Denied nothing is written beyond the counter's own rollover.
// Infrastructure failures come back wrapping quota.ErrUnavailable.
func (s *Service) TryDebit(ctx context.Context, accountID int64, env *model.ConversionEnvelope) (quota.Outcome, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return quota.Outcome{}, fmt.Errorf("%w: begin: %v", quota.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.usage.Ensure(ctx, tx, accountID, s.defaultLimit, s.window); err != nil {
		return quota.Outcome{}, fmt.Errorf("%w: ensure counter: %v", quota.ErrUnavailable, err)
	}

	counter, err := s.usage.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		return quota.Outcome{}, fmt.Errorf("%w: lock counter: %v", quota.ErrUnavailable, err)
	}

	counter, out := quota.Apply(counter, s.now())

	if err := s.usage.Save(ctx, tx, counter); err != nil {
		return quota.Outcome{}, fmt.Errorf("%w: save counter: %v", quota.ErrUnavailable, err)
	}

	if out.Allowed && env != nil {
		payload, err := json.Marshal(env)
		if err != nil {
			return quota.Outcome{}, fmt.Errorf("marshal envelope: %w", err)
		}
		if err := s.outbox.Insert(ctx, tx, "conversion", env.EventID, ConversionsKafkaTopic, payload); err != nil {
			return quota.Outcome{}, fmt.Errorf("%w: insert outbox: %v", quota.ErrUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return quota.Outcome{}, fmt.Errorf("%w: commit: %v", quota.ErrUnavailable, err)
	}
	return out, nil
}

func (s *Service) CurrentUsage(ctx context.Context, accountID int64) (model.UsageCounter, error) {
	c, err := s.usage.Get(ctx, accountID)
	if err != nil {
		return model.UsageCounter{}, fmt.Errorf("%w: read counter: %v", quota.ErrUnavailable, err)
	}
	if c.WindowEnd.IsZero() {
		// no clicks yet: report the window the first debit would open instead
		// of an all-zero counter
		now := s.now()
		c.Limit = s.defaultLimit
		c.WindowStart = now
		c.WindowEnd = now.Add(s.window)
	}
	return c, nil
}

func (s *Service) SetLimit(ctx context.Context, accountID, limit int64) error {
	if err := s.usage.SetLimit(ctx, accountID, limit); err != nil {
		return fmt.Errorf("%w: set limit: %v", quota.ErrUnavailable, err)
	}
	return nil
}
