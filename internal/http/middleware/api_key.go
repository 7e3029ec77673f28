package middleware

import (
	"net/http"
	"strings"

	"github.com/fiverlaine/tracktelegram/internal/repository"
	echo "github.com/labstack/echo/v4"
)

// AccountFromCtx extracts the authenticated account_id set by APIKeyMiddleware.
func AccountFromCtx(c echo.Context) (int64, bool) {
	v := c.Get("account_id")
	id, ok := v.(int64)
	return id, ok
}

// PlanFromCtx returns the account's plan name, when authenticated.
func PlanFromCtx(c echo.Context) string {
	if v, ok := c.Get("account_plan").(string); ok {
		return v
	}
	return ""
}

// APIKeyMiddleware authenticates dashboard API requests using the X-API-Key
// header and blocks suspended accounts. Applies to /v1 only; the public
// redirect route stays unauthenticated.
func APIKeyMiddleware(accounts repository.AccountsRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			acc, err := accounts.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if acc == nil || acc.Status != "active" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set("account_id", acc.ID)
			c.Set("account_plan", acc.Plan)
			if acc.RateLimitRPS != nil {
				c.Set("account_rps", *acc.RateLimitRPS)
			}
			return next(c)
		}
	}
}
