// Package eventlog persists attribution events off the redirect's critical
// path: bounded in-process queue, retrying workers, dead-letter sink.
package eventlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/metrics"
	"github.com/fiverlaine/tracktelegram/internal/model"
	"go.uber.org/zap"
)

// Store is the durable destination (ClickHouse in production).
type Store interface {
	Insert(ctx context.Context, e model.AttributionEvent) error
}

// DeadLetter parks events that exhausted their retries so loss is bounded and
// observable rather than silent.
type DeadLetter interface {
	Push(ctx context.Context, payload []byte) error
	Pop(ctx context.Context) ([]byte, error) // (nil, nil) when empty
}

// Logger accepts events without blocking and drains them with retrying
// workers. Record is safe on the hot path: the handler proceeds to redirect
// once the event is accepted into the queue, not when it is flushed.
type Logger struct {
	store Store
	dlq   DeadLetter
	log   *zap.Logger

	queue       chan model.AttributionEvent
	workers     int
	maxAttempts int
	baseBackoff time.Duration

	wg sync.WaitGroup
}

type Config struct {
	QueueSize   int
	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
}

func New(store Store, dlq DeadLetter, log *zap.Logger, cfg Config) *Logger {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	return &Logger{
		store:       store,
		dlq:         dlq,
		log:         log,
		queue:       make(chan model.AttributionEvent, cfg.QueueSize),
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
	}
}

// Record enqueues an event. Returns false when the queue is full; it never
// blocks the caller.
func (l *Logger) Record(e model.AttributionEvent) bool {
	select {
	case l.queue <- e:
		return true
	default:
		return false
	}
}

// Run starts the drain workers and blocks until ctx is cancelled and the
// queue's remaining events are flushed.
func (l *Logger) Run(ctx context.Context) {
	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.drain(ctx)
		}()
	}
	l.wg.Wait()
}

func (l *Logger) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// final sweep of whatever is still buffered
			for {
				select {
				case e := <-l.queue:
					l.persist(context.Background(), e)
				default:
					return
				}
			}
		case e := <-l.queue:
			l.persist(ctx, e)
		}
	}
}

// persist retries with exponential backoff up to maxAttempts, then dead-letters.
func (l *Logger) persist(ctx context.Context, e model.AttributionEvent) {
	var err error
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(l.baseBackoff << (attempt - 1)):
			case <-ctx.Done():
			}
		}
		if err = l.store.Insert(ctx, e); err == nil {
			return
		}
	}

	l.log.Error("event write exhausted retries, dead-lettering",
		zap.String("event_id", e.ID), zap.Error(err))
	metrics.EventsDeadLettered.Inc()

	payload, merr := json.Marshal(e)
	if merr != nil {
		l.log.Error("event marshal failed, dropping", zap.String("event_id", e.ID), zap.Error(merr))
		return
	}
	// the caller's ctx may already be cancelled on shutdown; the dead-letter
	// push must still land
	if derr := l.dlq.Push(context.Background(), payload); derr != nil {
		l.log.Error("dead-letter push failed, dropping", zap.String("event_id", e.ID), zap.Error(derr))
	}
}

// Redrive drains the dead-letter sink back into the store, stopping at the
// first event that still fails (it is pushed back). Wired to a cron schedule.
func (l *Logger) Redrive(ctx context.Context) (int, error) {
	n := 0
	for {
		payload, err := l.dlq.Pop(ctx)
		if err != nil {
			return n, err
		}
		if payload == nil {
			return n, nil
		}

		var e model.AttributionEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			l.log.Error("dead-letter payload unreadable, dropping", zap.Error(err))
			continue
		}
		if err := l.store.Insert(ctx, e); err != nil {
			if perr := l.dlq.Push(ctx, payload); perr != nil {
				l.log.Error("dead-letter requeue failed, event lost",
					zap.String("event_id", e.ID), zap.Error(perr))
			}
			return n, err
		}
		n++
	}
}
