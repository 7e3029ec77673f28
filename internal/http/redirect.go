package http

import (
	"net/http"

	"github.com/fiverlaine/tracktelegram/internal/track"
	echo "github.com/labstack/echo/v4"
)

// redirectHandler is the hot path: every tracking-link hit lands here and
// leaves as a 302, whatever happens inside the pipeline.
func redirectHandler(extractor *track.Extractor, orch *track.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		cap := extractor.Extract(c.Request())
		rd := orch.Handle(c.Request().Context(), c.Param("slug"), cap)

		if rd.Cookie != nil {
			c.SetCookie(rd.Cookie)
		}
		if rd.InternalError {
			// differentiated monitoring, identical user experience
			c.Response().Header().Set("X-Fallback", "1")
		}
		return c.Redirect(http.StatusFound, rd.Location)
	}
}
