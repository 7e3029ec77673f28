package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/fiverlaine/tracktelegram/internal/quota"
	"github.com/fiverlaine/tracktelegram/internal/track"
	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubFunnelStore struct {
	funnels map[string]*model.ResolvedFunnel
	err     error
}

func (s *stubFunnelStore) GetBySlug(ctx context.Context, slug string) (*model.ResolvedFunnel, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.funnels[slug], nil
}

type stubGate struct {
	out quota.Outcome
}

func (g *stubGate) TryDebit(ctx context.Context, accountID int64, env *model.ConversionEnvelope) (quota.Outcome, error) {
	return g.out, nil
}

type stubSink struct{}

func (stubSink) Record(model.AttributionEvent) bool { return true }

func newTestHandler(store track.FunnelStore, gate track.Gate) echo.HandlerFunc {
	extractor := &track.Extractor{
		NewVisitorID: func() string { return "vid-test" },
		Now:          func() time.Time { return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC) },
	}
	orch := &track.Orchestrator{
		Resolver: track.NewResolver(store, time.Minute),
		Gate:     gate,
		Events:   stubSink{},
		Targets: track.Targets{
			Landing:   "https://example.com/",
			Inactive:  "https://example.com/inactive",
			PlanLimit: "https://example.com/plan-limit",
		},
		Deadline: 500 * time.Millisecond,
		NewID:    func() string { return "evt-test" },
		Log:      zap.NewNop(),
	}
	return redirectHandler(extractor, orch)
}

func TestRedirectHandler_AllowedClick(t *testing.T) {
	store := &stubFunnelStore{funnels: map[string]*model.ResolvedFunnel{
		"abc123": {
			Funnel:  model.Funnel{ID: "f1", AccountID: 1, Slug: "abc123", Status: model.FunnelActive},
			Pixel:   &model.Pixel{ID: "px1", PixelID: "1234567890", Status: model.PixelValid},
			Channel: &model.Channel{ID: "c1", InviteLink: "https://t.me/mychannel"},
		},
	}}
	h := newTestHandler(store, &stubGate{out: quota.Outcome{Allowed: true, Used: 5, Limit: 1000}})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/abc123?fbclid=IwAR123", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("slug")
	c.SetParamValues("abc123")
	require.NoError(t, h(c))

	assert.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	assert.Contains(t, loc, "t.me/mychannel")
	assert.Contains(t, loc, "vid=vid-test")
	assert.Contains(t, loc, "fbc=fb.1.")

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "_fbc", cookies[0].Name)
	assert.Empty(t, rec.Header().Get("X-Fallback"))
}

func TestRedirectHandler_UnknownSlug(t *testing.T) {
	h := newTestHandler(&stubFunnelStore{funnels: map[string]*model.ResolvedFunnel{}}, &stubGate{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/zzz", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("slug")
	c.SetParamValues("zzz")
	require.NoError(t, h(c))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/", rec.Header().Get("Location"))
	assert.Empty(t, rec.Header().Get("X-Fallback"))
}

func TestRedirectHandler_QuotaDenied(t *testing.T) {
	store := &stubFunnelStore{funnels: map[string]*model.ResolvedFunnel{
		"abc123": {
			Funnel:  model.Funnel{ID: "f1", AccountID: 1, Slug: "abc123", Status: model.FunnelActive},
			Channel: &model.Channel{ID: "c1", InviteLink: "https://t.me/mychannel"},
		},
	}}
	h := newTestHandler(store, &stubGate{out: quota.Outcome{Allowed: false, Used: 5, Limit: 5}})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/abc123", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("slug")
	c.SetParamValues("abc123")
	require.NoError(t, h(c))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/plan-limit", rec.Header().Get("Location"))
}

func TestRedirectHandler_ResolverDownStillRedirects(t *testing.T) {
	h := newTestHandler(&stubFunnelStore{err: errors.New("conn refused")}, &stubGate{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/abc123", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("slug")
	c.SetParamValues("abc123")
	require.NoError(t, h(c))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/", rec.Header().Get("Location"))
	assert.Equal(t, "1", rec.Header().Get("X-Fallback"))
}
