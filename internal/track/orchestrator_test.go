package track

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/fiverlaine/tracktelegram/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGate struct {
	mu        sync.Mutex
	calls     int
	envelopes []*model.ConversionEnvelope
	out       quota.Outcome
	err       error
}

func (g *fakeGate) TryDebit(ctx context.Context, accountID int64, env *model.ConversionEnvelope) (quota.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.envelopes = append(g.envelopes, env)
	if g.err != nil {
		return quota.Outcome{}, g.err
	}
	out := g.out
	if out.Allowed {
		out.Used++
		g.out.Used++
	}
	return out, nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []model.AttributionEvent
	full   bool
}

func (s *fakeSink) Record(e model.AttributionEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.events = append(s.events, e)
	return true
}

func (s *fakeSink) last(t *testing.T) model.AttributionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.events)
	return s.events[len(s.events)-1]
}

var testTargets = Targets{
	Landing:   "https://example.com/",
	Inactive:  "https://example.com/inactive",
	PlanLimit: "https://example.com/plan-limit",
}

func fullFunnel(slug string, status model.FunnelStatus, pixelStatus model.PixelStatus) *model.ResolvedFunnel {
	return &model.ResolvedFunnel{
		Funnel: model.Funnel{ID: "f-" + slug, AccountID: 1, Slug: slug, Status: status},
		Pixel: &model.Pixel{
			ID: "px1", AccountID: 1, PixelID: "1234567890",
			AccessToken: "tok", Status: pixelStatus,
		},
		Channel: &model.Channel{ID: "ch1", InviteLink: "https://t.me/mychannel"},
	}
}

func newOrchestrator(store FunnelStore, gate Gate, sink EventSink) *Orchestrator {
	n := 0
	return &Orchestrator{
		Resolver: NewResolver(store, time.Minute),
		Gate:     gate,
		Events:   sink,
		Targets:  testTargets,
		Deadline: 500 * time.Millisecond,
		NewID: func() string {
			n++
			return string(rune('a'+n%26)) + "-id"
		},
		Log: zap.NewNop(),
	}
}

func clickCapture(now time.Time) Capture {
	fbc := SynthesizeFBC("IwAR123", now)
	return Capture{
		VisitorID: "v1",
		FBCLID:    strptr("IwAR123"),
		FBC:       &fbc,
		FBCFresh:  true,
		IP:        "203.0.113.9",
		UserAgent: "ua",
		At:        now,
	}
}

func TestHandle_AllowedClick(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := &fakeFunnelStore{funnels: map[string]*model.ResolvedFunnel{
		"abc123": fullFunnel("abc123", model.FunnelActive, model.PixelValid),
	}}
	gate := &fakeGate{out: quota.Outcome{Allowed: true, Used: 4, Limit: 1000}}
	sink := &fakeSink{}

	rd := newOrchestrator(store, gate, sink).Handle(context.Background(), "abc123", clickCapture(now))

	assert.Equal(t, model.OutcomeAllowed, rd.Outcome)
	assert.Contains(t, rd.Location, "t.me/mychannel")
	assert.Contains(t, rd.Location, "vid=v1")
	assert.Contains(t, rd.Location, "fbc=fb.1.")
	require.NotNil(t, rd.Cookie)
	assert.Equal(t, "_fbc", rd.Cookie.Name)

	// debit carried a forwardable envelope
	require.Len(t, gate.envelopes, 1)
	env := gate.envelopes[0]
	require.NotNil(t, env)
	assert.Equal(t, "1234567890", env.PixelID)
	assert.Equal(t, "Lead", env.EventName)
	assert.Equal(t, now.Unix(), env.EventTime)

	e := sink.last(t)
	assert.Equal(t, model.OutcomeAllowed, e.Outcome)
	assert.Equal(t, "f-abc123", e.FunnelID)
	assert.Equal(t, int64(1), e.AccountID)
}

func TestHandle_QuotaDenied(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := &fakeFunnelStore{funnels: map[string]*model.ResolvedFunnel{
		"abc123": fullFunnel("abc123", model.FunnelActive, model.PixelValid),
	}}
	gate := &fakeGate{out: quota.Outcome{Allowed: false, Used: 5, Limit: 5}}
	sink := &fakeSink{}

	rd := newOrchestrator(store, gate, sink).Handle(context.Background(), "abc123", clickCapture(now))

	assert.Equal(t, model.OutcomeQuotaDenied, rd.Outcome)
	assert.Equal(t, testTargets.PlanLimit, rd.Location)
	assert.False(t, rd.InternalError)

	// denied click is still logged, with the denial outcome
	e := sink.last(t)
	assert.Equal(t, model.OutcomeQuotaDenied, e.Outcome)
}

func TestHandle_UnknownSlug(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := &fakeFunnelStore{funnels: map[string]*model.ResolvedFunnel{}}
	gate := &fakeGate{}
	sink := &fakeSink{}

	rd := newOrchestrator(store, gate, sink).Handle(context.Background(), "zzz", clickCapture(now))

	assert.Equal(t, model.OutcomeFunnelMissing, rd.Outcome)
	assert.Equal(t, testTargets.Landing, rd.Location)
	// no quota mutation for a slug that never resolved
	assert.Zero(t, gate.calls)

	e := sink.last(t)
	assert.Equal(t, model.OutcomeFunnelMissing, e.Outcome)
	assert.Zero(t, e.AccountID)
	assert.Empty(t, e.FunnelID)
}

func TestHandle_DisabledFunnel(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := &fakeFunnelStore{funnels: map[string]*model.ResolvedFunnel{
		"abc123": fullFunnel("abc123", model.FunnelDisabled, model.PixelValid),
	}}
	gate := &fakeGate{}
	sink := &fakeSink{}

	rd := newOrchestrator(store, gate, sink).Handle(context.Background(), "abc123", clickCapture(now))

	assert.Equal(t, model.OutcomeDisabled, rd.Outcome)
	assert.Equal(t, testTargets.Inactive, rd.Location)
	assert.Zero(t, gate.calls)

	// event still attributes to the funnel's account
	e := sink.last(t)
	assert.Equal(t, int64(1), e.AccountID)
}

func TestHandle_ResolverFailureStillRedirects(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := &fakeFunnelStore{err: errors.New("conn refused")}
	gate := &fakeGate{}
	sink := &fakeSink{}

	rd := newOrchestrator(store, gate, sink).Handle(context.Background(), "abc123", clickCapture(now))

	assert.Equal(t, model.OutcomeInternalError, rd.Outcome)
	assert.Equal(t, testTargets.Landing, rd.Location)
	assert.True(t, rd.InternalError)
	assert.Zero(t, gate.calls)
}

func TestHandle_GateFailureStillRedirects(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := &fakeFunnelStore{funnels: map[string]*model.ResolvedFunnel{
		"abc123": fullFunnel("abc123", model.FunnelActive, model.PixelValid),
	}}
	gate := &fakeGate{err: quota.ErrUnavailable}
	sink := &fakeSink{}

	rd := newOrchestrator(store, gate, sink).Handle(context.Background(), "abc123", clickCapture(now))

	assert.Equal(t, model.OutcomeInternalError, rd.Outcome)
	assert.Equal(t, testTargets.Landing, rd.Location)
	assert.True(t, rd.InternalError)
}

func TestHandle_InvalidPixelSuppressesForwarding(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := &fakeFunnelStore{funnels: map[string]*model.ResolvedFunnel{
		"abc123": fullFunnel("abc123", model.FunnelActive, model.PixelInvalid),
	}}
	gate := &fakeGate{out: quota.Outcome{Allowed: true, Limit: 1000}}
	sink := &fakeSink{}

	rd := newOrchestrator(store, gate, sink).Handle(context.Background(), "abc123", clickCapture(now))

	// redirect and quota behave normally, only the dispatch is suppressed
	assert.Equal(t, model.OutcomeAllowed, rd.Outcome)
	require.Len(t, gate.envelopes, 1)
	assert.Nil(t, gate.envelopes[0])
}

func TestHandle_NoCookieWithoutFreshFBC(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := &fakeFunnelStore{funnels: map[string]*model.ResolvedFunnel{
		"abc123": fullFunnel("abc123", model.FunnelActive, model.PixelValid),
	}}
	gate := &fakeGate{out: quota.Outcome{Allowed: true, Limit: 1000}}

	cap := Capture{VisitorID: "v1", FBC: strptr("fb.1.1000.OLD"), FBCFresh: false, At: now}
	rd := newOrchestrator(store, gate, &fakeSink{}).Handle(context.Background(), "abc123", cap)

	assert.Equal(t, model.OutcomeAllowed, rd.Outcome)
	assert.Nil(t, rd.Cookie)
}

func TestHandle_FullSinkStillRedirects(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := &fakeFunnelStore{funnels: map[string]*model.ResolvedFunnel{
		"abc123": fullFunnel("abc123", model.FunnelActive, model.PixelValid),
	}}
	gate := &fakeGate{out: quota.Outcome{Allowed: true, Limit: 1000}}
	sink := &fakeSink{full: true}

	rd := newOrchestrator(store, gate, sink).Handle(context.Background(), "abc123", clickCapture(now))
	assert.Equal(t, model.OutcomeAllowed, rd.Outcome)
	assert.NotEmpty(t, rd.Location)
}
