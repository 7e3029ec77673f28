package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/kafka"
	"github.com/fiverlaine/tracktelegram/internal/metrics"
	"github.com/fiverlaine/tracktelegram/internal/model"
	"go.uber.org/zap"
)

// AttemptState is the per-envelope delivery state machine.
type AttemptState string

const (
	StatePending  AttemptState = "pending"
	StateSent     AttemptState = "sent"
	StateRetrying AttemptState = "retrying"
	StateFailed   AttemptState = "failed"

	// terminal states that never entered the send loop
	StateSuppressed   AttemptState = "suppressed"
	StateAuthRejected AttemptState = "auth_rejected"
)

// Sender is the outbound call to the ad platform.
type Sender interface {
	Send(ctx context.Context, accessToken string, env model.ConversionEnvelope) error
}

// PixelStore is the slice of pixel persistence the worker needs: the
// suppression read and the invalidation write.
type PixelStore interface {
	GetByID(ctx context.Context, id string) (*model.Pixel, error)
	SetStatus(ctx context.Context, id string, status model.PixelStatus) error
}

// Worker consumes conversion envelopes from Kafka and forwards them with
// bounded concurrency. Failed deliveries are retried here with backoff and
// jitter; the user-facing redirect finished long ago and never waits on any
// of this.
type Worker struct {
	Consumer *kafka.Consumer
	Pixels   PixelStore
	Sender   Sender
	Log      *zap.Logger

	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// overridable in tests
	Sleep func(context.Context, time.Duration)
}

func NewWorker(consumer *kafka.Consumer, pixels PixelStore, sender Sender, log *zap.Logger) *Worker {
	return &Worker{
		Consumer:    consumer,
		Pixels:      pixels,
		Sender:      sender,
		Log:         log,
		Workers:     16,
		MaxAttempts: 5,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
	}
}

// Run fetches messages and fans them out to processors until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 16
	}
	if w.Sleep == nil {
		w.Sleep = sleepCtx
	}

	msgCh := make(chan kafka.Message, w.Workers*2)

	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				m, err := w.Consumer.Fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					w.Log.Warn("kafka fetch failed", zap.Error(err))
					w.Sleep(ctx, 200*time.Millisecond)
					continue
				}
				msgCh <- m
			}
		}
	}()

	for i := 0; i < w.Workers; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case m, ok := <-msgCh:
					if !ok {
						return
					}
					w.processOne(ctx, m)
				}
			}
		}()
	}

	<-ctx.Done()
	return nil
}

func (w *Worker) processOne(ctx context.Context, m kafka.Message) {
	var env model.ConversionEnvelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.EventID == "" {
		// poison message: commit and move on
		_ = w.Consumer.Commit(ctx, m)
		w.Log.Warn("bad conversion envelope", zap.Error(err))
		return
	}

	state := w.Forward(ctx, env)
	metrics.ForwardsTotal.WithLabelValues(string(state)).Inc()
	_ = w.Consumer.Commit(ctx, m)
}

// Forward runs the delivery state machine for one envelope and returns its
// terminal state.
func (w *Worker) Forward(ctx context.Context, env model.ConversionEnvelope) AttemptState {
	if w.Sleep == nil {
		w.Sleep = sleepCtx
	}

	// suppression: a pixel marked invalid since the click was queued gets no
	// further attempts until re-validated
	px, err := w.Pixels.GetByID(ctx, env.PixelRef)
	if err != nil {
		w.Log.Error("pixel lookup failed", zap.String("pixel_ref", env.PixelRef), zap.Error(err))
		return StateFailed
	}
	if px == nil || px.Status == model.PixelInvalid {
		w.Log.Info("forward suppressed, pixel not sendable",
			zap.String("pixel_ref", env.PixelRef), zap.String("event_id", env.EventID))
		return StateSuppressed
	}

	state := StatePending
	for attempt := 0; attempt < w.MaxAttempts; attempt++ {
		if state == StateRetrying {
			w.Sleep(ctx, w.backoff(attempt))
			if ctx.Err() != nil {
				return StateRetrying
			}
		}

		err := w.Sender.Send(ctx, px.AccessToken, env)
		if err == nil {
			return StateSent
		}

		var se *SendError
		switch {
		case errors.As(err, &se) && se.Auth:
			// dead credentials: flag the pixel so the dashboard prompts
			// re-entry, and stop hammering the platform
			if uerr := w.Pixels.SetStatus(ctx, px.ID, model.PixelInvalid); uerr != nil {
				w.Log.Error("pixel invalidation failed", zap.String("pixel_ref", px.ID), zap.Error(uerr))
			}
			w.Log.Warn("conversion rejected, credentials invalid",
				zap.Int64("account_id", env.AccountID),
				zap.String("pixel_ref", px.ID),
				zap.String("event_id", env.EventID))
			return StateAuthRejected
		case errors.As(err, &se) && !se.Transient:
			// permanent payload rejection: retrying cannot fix it
			w.Log.Error("conversion rejected permanently",
				zap.String("event_id", env.EventID), zap.Error(err))
			return StateFailed
		default:
			// network error, 5xx, rate limit, open breaker
			state = StateRetrying
		}
	}

	// account-level alerting picks this up via the failed counter and log
	w.Log.Error("conversion failed after retries",
		zap.Int64("account_id", env.AccountID),
		zap.String("event_id", env.EventID),
		zap.Int("attempts", w.MaxAttempts))
	return StateFailed
}

// backoff is exponential from BaseBackoff, capped at MaxBackoff, with up to
// 50% additive jitter so racing workers spread out.
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.BaseBackoff << uint(attempt-1)
	if d > w.MaxBackoff || d <= 0 {
		d = w.MaxBackoff
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
