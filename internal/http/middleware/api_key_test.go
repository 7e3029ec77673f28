package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fiverlaine/tracktelegram/internal/model"
	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAccounts struct {
	byKey map[string]*model.Account
	err   error
}

func (s *stubAccounts) GetByAPIKey(ctx context.Context, apiKey string) (*model.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byKey[apiKey], nil
}

func (s *stubAccounts) SetPlan(ctx context.Context, accountID int64, plan string) error { return nil }

func callWithKey(t *testing.T, accounts *stubAccounts, key string) (*httptest.ResponseRecorder, echo.Context) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var captured echo.Context
	next := func(c echo.Context) error {
		captured = c
		return c.NoContent(http.StatusOK)
	}
	require.NoError(t, APIKeyMiddleware(accounts)(next)(c))
	return rec, captured
}

func TestAPIKeyMiddleware_Authenticates(t *testing.T) {
	rps := 20
	accounts := &stubAccounts{byKey: map[string]*model.Account{
		"good-key": {ID: 7, Status: "active", Plan: "pro", RateLimitRPS: &rps},
	}}

	rec, c := callWithKey(t, accounts, "good-key")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, c)

	id, ok := AccountFromCtx(c)
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, "pro", PlanFromCtx(c))
	assert.Equal(t, 20, c.Get("account_rps"))
}

func TestAPIKeyMiddleware_MissingKey(t *testing.T) {
	rec, c := callWithKey(t, &stubAccounts{}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, c)
}

func TestAPIKeyMiddleware_UnknownKey(t *testing.T) {
	rec, c := callWithKey(t, &stubAccounts{byKey: map[string]*model.Account{}}, "nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, c)
}

func TestAPIKeyMiddleware_SuspendedAccount(t *testing.T) {
	accounts := &stubAccounts{byKey: map[string]*model.Account{
		"sus-key": {ID: 8, Status: "suspended"},
	}}
	rec, c := callWithKey(t, accounts, "sus-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, c)
}

func TestAPIKeyMiddleware_StoreError(t *testing.T) {
	rec, c := callWithKey(t, &stubAccounts{err: errors.New("conn refused")}, "good-key")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Nil(t, c)
}
