package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fiverlaine/tracktelegram/internal/forwarder"
	"github.com/fiverlaine/tracktelegram/internal/http/middleware"
	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/fiverlaine/tracktelegram/internal/repository"
	"github.com/fiverlaine/tracktelegram/internal/telegram"
	"github.com/fiverlaine/tracktelegram/internal/track"
	"github.com/fiverlaine/tracktelegram/internal/util"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// UsageReader is the slice of the click service the dashboard consumes.
type UsageReader interface {
	CurrentUsage(ctx context.Context, accountID int64) (model.UsageCounter, error)
	SetLimit(ctx context.Context, accountID, limit int64) error
}

// PixelValidator round-trips pixel credentials against the ad platform.
type PixelValidator interface {
	Validate(ctx context.Context, accessToken, pixelID string) error
}

// ChannelValidator is the Telegram collaborator contract consumed at
// registration time.
type ChannelValidator interface {
	ValidateToken(token string) (telegram.BotIdentity, error)
	ResolveChatID(token, inviteLink string) (int64, error)
}

// ---- usage ----

func usageHandler(usage UsageReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		accID, ok := middleware.AccountFromCtx(c)
		if !ok || accID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		counter, err := usage.CurrentUsage(c.Request().Context(), accID)
		if err != nil {
			log.Errorf("usage read failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "usage unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"used":       counter.Used,
			"limit":      counter.Limit,
			"window_end": counter.WindowEnd,
		})
	}
}

// ---- plan change ----

type planReq struct {
	Plan string `json:"plan"`
}

// planHandler applies an upgrade/downgrade: the account's plan name and the
// counter's limit, nothing else. Used is never rewound.
func planHandler(accounts repository.AccountsRepository, usage UsageReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		accID, ok := middleware.AccountFromCtx(c)
		if !ok || accID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req planReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		limits, known := model.LimitsForPlan(req.Plan)
		if !known {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown plan"})
		}

		ctx := c.Request().Context()
		if err := accounts.SetPlan(ctx, accID, strings.ToLower(req.Plan)); err != nil {
			log.Errorf("plan update failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if err := usage.SetLimit(ctx, accID, limits.Clicks); err != nil {
			log.Errorf("limit update failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{"plan": strings.ToLower(req.Plan), "click_limit": limits.Clicks})
	}
}

// ---- pixels ----

type pixelReq struct {
	Name        string `json:"name"`
	PixelID     string `json:"pixel_id"`
	AccessToken string `json:"access_token"`
}

func createPixelHandler(pixels repository.PixelsRepository, validator PixelValidator) echo.HandlerFunc {
	return func(c echo.Context) error {
		accID, ok := middleware.AccountFromCtx(c)
		if !ok || accID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req pixelReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.PixelID = strings.TrimSpace(req.PixelID)
		req.AccessToken = strings.TrimSpace(req.AccessToken)
		if req.PixelID == "" || req.AccessToken == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "pixel_id and access_token required"})
		}

		// valid only after a real round-trip against the platform
		status := pixelStatusFor(validator.Validate(c.Request().Context(), req.AccessToken, req.PixelID))
		if status != model.PixelValid {
			log.Warnf("pixel validation did not pass, stored as %s", status)
		}

		p := model.Pixel{
			ID:          util.NewULID(),
			AccountID:   accID,
			Name:        req.Name,
			PixelID:     req.PixelID,
			AccessToken: req.AccessToken,
			Status:      status,
		}
		if err := pixels.Insert(c.Request().Context(), p); err != nil {
			log.Errorf("pixel insert failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		var code int
		switch status {
		case model.PixelValid:
			code = http.StatusCreated
		case model.PixelUnvalidated:
			code = http.StatusAccepted
		default:
			code = http.StatusUnprocessableEntity
		}
		return c.JSON(code, map[string]any{"id": p.ID, "status": status.String()})
	}
}

// pixelStatusFor maps a validation round-trip result to a pixel status. Auth
// and payload rejections mean the credentials are bad; transport failures and
// rate limits leave the round-trip unfinished, so the pixel stays unvalidated
// and a later re-validation can complete it.
func pixelStatusFor(err error) model.PixelStatus {
	if err == nil {
		return model.PixelValid
	}
	var se *forwarder.SendError
	if errors.As(err, &se) && !se.Transient {
		return model.PixelInvalid
	}
	return model.PixelUnvalidated
}

type revalidatePixelReq struct {
	AccessToken string `json:"access_token"`
}

// revalidatePixelHandler re-runs the platform round-trip for an existing
// pixel, optionally with a replacement token. A pixel the forwarder marked
// invalid comes back to valid here; funnels bound to it resume forwarding
// without being rebuilt.
func revalidatePixelHandler(pixels repository.PixelsRepository, validator PixelValidator) echo.HandlerFunc {
	return func(c echo.Context) error {
		accID, ok := middleware.AccountFromCtx(c)
		if !ok || accID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req revalidatePixelReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		ctx := c.Request().Context()
		px, err := pixels.GetByID(ctx, c.Param("id"))
		if err != nil {
			log.Errorf("pixel read failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if px == nil || px.AccountID != accID {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "pixel not found"})
		}

		token := strings.TrimSpace(req.AccessToken)
		if token == "" {
			token = px.AccessToken
		}

		status := pixelStatusFor(validator.Validate(ctx, token, px.PixelID))
		if err := pixels.SetCredentials(ctx, px.ID, token, status); err != nil {
			log.Errorf("pixel update failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		code := http.StatusOK
		if status != model.PixelValid {
			code = http.StatusUnprocessableEntity
		}
		return c.JSON(code, map[string]any{"id": px.ID, "status": status.String()})
	}
}

// ---- channels ----

type channelReq struct {
	Name       string `json:"name"`
	BotToken   string `json:"bot_token"`
	InviteLink string `json:"invite_link"`
}

func createChannelHandler(channels repository.ChannelsRepository, validator ChannelValidator) echo.HandlerFunc {
	return func(c echo.Context) error {
		accID, ok := middleware.AccountFromCtx(c)
		if !ok || accID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req channelReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.BotToken = strings.TrimSpace(req.BotToken)
		req.InviteLink = strings.TrimSpace(req.InviteLink)
		if req.BotToken == "" || req.InviteLink == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bot_token and invite_link required"})
		}

		if _, err := validator.ValidateToken(req.BotToken); err != nil {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "invalid bot token"})
		}

		// chat ID is resolved exactly once, here; clicks only ever redirect to
		// channels that already carry one
		chatID, err := validator.ResolveChatID(req.BotToken, req.InviteLink)
		if err != nil {
			if errors.Is(err, telegram.ErrUnresolvable) {
				return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "invite link unresolvable"})
			}
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "invalid bot token"})
		}

		ch := model.Channel{
			ID:         util.NewULID(),
			AccountID:  accID,
			Name:       req.Name,
			BotToken:   req.BotToken,
			InviteLink: req.InviteLink,
			ChatID:     &chatID,
		}
		if err := channels.Insert(c.Request().Context(), ch); err != nil {
			log.Errorf("channel insert failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusCreated, map[string]any{"id": ch.ID, "chat_id": chatID})
	}
}

// ---- funnels ----

type funnelReq struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	PixelRef    string `json:"pixel_ref"`
	ChannelRef  string `json:"channel_ref"`
	Passthrough bool   `json:"passthrough"`
}

func createFunnelHandler(
	funnels repository.FunnelsRepository,
	pixels repository.PixelsRepository,
	channels repository.ChannelsRepository,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		accID, ok := middleware.AccountFromCtx(c)
		if !ok || accID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req funnelReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.Slug = model.NormalizeSlug(req.Slug)
		if req.Slug == "" || req.PixelRef == "" || req.ChannelRef == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "slug, pixel_ref and channel_ref required"})
		}

		ctx := c.Request().Context()

		// per-plan funnel count
		if limits, known := model.LimitsForPlan(middleware.PlanFromCtx(c)); known && limits.Funnels > 0 {
			n, err := funnels.CountByAccount(ctx, accID)
			if err != nil {
				log.Errorf("funnel count failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
			}
			if n >= limits.Funnels {
				return c.JSON(http.StatusForbidden, map[string]any{
					"error": "funnel limit reached", "count": n, "limit": limits.Funnels,
				})
			}
		}

		// both references must exist, be owned by the caller, and be usable
		px, err := pixels.GetByID(ctx, req.PixelRef)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if px == nil || px.AccountID != accID {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "unknown pixel"})
		}
		if px.Status != model.PixelValid {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "pixel not validated"})
		}

		ch, err := channels.GetByID(ctx, req.ChannelRef)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if ch == nil || ch.AccountID != accID {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "unknown channel"})
		}
		if ch.ChatID == nil {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "channel chat not resolved"})
		}

		f := model.Funnel{
			ID:          util.NewULID(),
			AccountID:   accID,
			Name:        req.Name,
			Slug:        req.Slug,
			PixelRef:    req.PixelRef,
			ChannelRef:  req.ChannelRef,
			Passthrough: req.Passthrough,
			Status:      model.FunnelActive,
		}
		if err := funnels.Insert(ctx, f); err != nil {
			if errors.Is(err, repository.ErrDuplicateSlug) {
				return c.JSON(http.StatusConflict, map[string]string{"error": "slug already exists"})
			}
			log.Errorf("funnel insert failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusCreated, map[string]any{"id": f.ID, "slug": f.Slug})
	}
}

func disableFunnelHandler(funnels repository.FunnelsRepository, resolver *track.Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		accID, ok := middleware.AccountFromCtx(c)
		if !ok || accID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		slug := model.NormalizeSlug(c.Param("slug"))
		if err := funnels.SetStatus(c.Request().Context(), accID, slug, model.FunnelDisabled); err != nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "funnel not found"})
		}
		resolver.Invalidate(slug)
		return c.JSON(http.StatusOK, map[string]string{"slug": slug, "status": model.FunnelDisabled.String()})
	}
}

// invalidateFunnelHandler is the dashboard's cache hook: edits become visible
// to new clicks immediately instead of after one TTL window.
func invalidateFunnelHandler(resolver *track.Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		resolver.Invalidate(c.Param("slug"))
		return c.NoContent(http.StatusNoContent)
	}
}
