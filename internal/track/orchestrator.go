package track

import (
	"context"
	"net/http"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/metrics"
	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/fiverlaine/tracktelegram/internal/quota"
	"go.uber.org/zap"
)

// conversionEventName is what gets reported to the ad platform for a click.
const conversionEventName = "Lead"

// Gate is the quota boundary. A non-nil envelope is queued for forwarding in
// the same atomic unit as an allowed debit.
type Gate interface {
	TryDebit(ctx context.Context, accountID int64, env *model.ConversionEnvelope) (quota.Outcome, error)
}

// EventSink accepts attribution events without blocking. A false return means
// the event was not accepted (queue full); the redirect proceeds regardless.
type EventSink interface {
	Record(e model.AttributionEvent) bool
}

// Redirect is a terminal pipeline state: where to send the browser, plus the
// optional attribution cookie.
type Redirect struct {
	Location      string
	Cookie        *http.Cookie
	Outcome       model.ClickOutcome
	InternalError bool // infrastructure failure behind a user-identical redirect
}

// Orchestrator sequences one tracking-link hit: resolve, debit, log, compose.
// Retries never happen at this level; they live inside the event logger and
// the forwarder.
type Orchestrator struct {
	Resolver *Resolver
	Gate     Gate
	Events   EventSink
	Targets  Targets
	Deadline time.Duration // hard budget for resolve + debit
	NewID    func() string // attribution event IDs
	Log      *zap.Logger
}

// Handle runs the pipeline for one captured click. The returned redirect is
// always usable: every failure folds into one of the three fallback targets.
func (o *Orchestrator) Handle(ctx context.Context, slug string, cap Capture) Redirect {
	deadline := o.Deadline
	if deadline <= 0 {
		deadline = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	f, err := o.Resolver.Resolve(ctx, slug)
	if err != nil {
		o.Log.Error("resolver failed", zap.String("slug", slug), zap.Error(err))
		return o.finish(Redirect{
			Location:      o.Targets.Landing,
			Outcome:       model.OutcomeInternalError,
			InternalError: true,
		}, slug, nil, cap)
	}
	if f == nil {
		return o.finish(Redirect{
			Location: o.Targets.Landing,
			Outcome:  model.OutcomeFunnelMissing,
		}, slug, nil, cap)
	}
	if f.Funnel.Status != model.FunnelActive {
		return o.finish(Redirect{
			Location: o.Targets.Inactive,
			Outcome:  model.OutcomeDisabled,
		}, slug, f, cap)
	}

	out, err := o.Gate.TryDebit(ctx, f.Funnel.AccountID, o.envelope(f, cap))
	if err != nil {
		o.Log.Error("quota debit failed",
			zap.String("slug", slug),
			zap.Int64("account_id", f.Funnel.AccountID),
			zap.Error(err))
		return o.finish(Redirect{
			Location:      o.Targets.Landing,
			Outcome:       model.OutcomeInternalError,
			InternalError: true,
		}, slug, f, cap)
	}
	if !out.Allowed {
		return o.finish(Redirect{
			Location: o.Targets.PlanLimit,
			Outcome:  model.OutcomeQuotaDenied,
		}, slug, f, cap)
	}

	rd := Redirect{
		Location: ComposeDestination(f, cap),
		Outcome:  model.OutcomeAllowed,
	}
	if cap.FBCFresh && cap.FBC != nil {
		rd.Cookie = FBCCookie(*cap.FBC, cap.At)
	}
	return o.finish(rd, slug, f, cap)
}

// envelope builds the conversion payload, or nil when forwarding is
// suppressed: no pixel bound, or the pixel's credentials are known-invalid.
func (o *Orchestrator) envelope(f *model.ResolvedFunnel, cap Capture) *model.ConversionEnvelope {
	if f.Pixel == nil || f.Pixel.Status == model.PixelInvalid {
		return nil
	}
	return &model.ConversionEnvelope{
		EventID:   o.NewID(),
		AccountID: f.Funnel.AccountID,
		PixelRef:  f.Pixel.ID,
		PixelID:   f.Pixel.PixelID,
		EventName: conversionEventName,
		VisitorID: cap.VisitorID,
		FBC:       cap.FBC,
		FBP:       cap.FBP,
		IP:        cap.IP,
		UserAgent: cap.UserAgent,
		EventTime: cap.At.Unix(),
	}
}

// finish records the attribution event (best effort, non-blocking) and bumps
// metrics before handing the redirect back.
func (o *Orchestrator) finish(rd Redirect, slug string, f *model.ResolvedFunnel, cap Capture) Redirect {
	e := model.AttributionEvent{
		ID:        o.NewID(),
		Slug:      model.NormalizeSlug(slug),
		VisitorID: cap.VisitorID,
		FBCLID:    cap.FBCLID,
		FBC:       cap.FBC,
		FBP:       cap.FBP,
		IP:        cap.IP,
		UserAgent: cap.UserAgent,
		Outcome:   rd.Outcome,
		ClickedAt: cap.At,
	}
	if f != nil {
		e.AccountID = f.Funnel.AccountID
		e.FunnelID = f.Funnel.ID
	}
	if !o.Events.Record(e) {
		metrics.EventsDropped.Inc()
		o.Log.Warn("event queue full, click dropped from log", zap.String("slug", e.Slug))
	}

	metrics.ClicksTotal.WithLabelValues(rd.Outcome.String()).Inc()
	return rd
}
