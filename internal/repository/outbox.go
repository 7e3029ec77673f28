package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// OutboxRepository persists conversion envelopes for asynchronous publishing.
// Rows are written in the same transaction as the quota debit, so a committed
// debit always has its conversion event queued and a rolled-back one never
// does.
type OutboxRepository interface {
	// Insert writes one outbox event. If tx is nil an internal transaction is
	// opened and committed; otherwise the given tx is used.
	Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, topic string, payload []byte) error
}

type outboxRepo struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) OutboxRepository {
	return &outboxRepo{db: db}
}

func (r *outboxRepo) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

// Insert adds an event row. The outbox relay (Debezium outbox SMT) publishes
// it to Kafka based on the topic column.
func (r *outboxRepo) Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, topic string, payload []byte) error {
	const q = `
		INSERT INTO outbox (aggregate, aggregate_id, topic, payload, created_at)
		VALUES (?, ?, ?, ?, NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, aggregate, aggregateID, topic, payload)
		return err
	})
}
