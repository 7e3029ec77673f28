package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/fiverlaine/tracktelegram/internal/http/middleware"
	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/fiverlaine/tracktelegram/internal/repository"
	echo "github.com/labstack/echo/v4"
)

// listClicksHandler serves paged attribution events from ClickHouse for the
// dashboard's logs view.
func listClicksHandler(chRepo repository.CHEventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		accID, ok := middleware.AccountFromCtx(c)
		if !ok || accID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var outcome model.ClickOutcome
		if raw := strings.TrimSpace(c.QueryParam("outcome")); raw != "" {
			tmp := model.ClickOutcome(raw)
			if tmp.Valid() {
				outcome = tmp
			}
		}

		funnelID := strings.TrimSpace(c.QueryParam("funnel_id"))

		events, err := chRepo.ListByAccount(c.Request().Context(), accID, funnelID, outcome, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(events),
			"results": events,
		})
	}
}
