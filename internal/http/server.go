package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/config"
	"github.com/fiverlaine/tracktelegram/internal/eventlog"
	"github.com/fiverlaine/tracktelegram/internal/forwarder"
	"github.com/fiverlaine/tracktelegram/internal/http/middleware"
	"github.com/fiverlaine/tracktelegram/internal/repository"
	"github.com/fiverlaine/tracktelegram/internal/service/click"
	"github.com/fiverlaine/tracktelegram/internal/telegram"
	"github.com/fiverlaine/tracktelegram/internal/track"
	"github.com/fiverlaine/tracktelegram/internal/util"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	e      *echo.Echo
	events *eventlog.Logger
}

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, zlog *zap.Logger) *Server {
	// repos (MySQL)
	accountsRepo := repository.NewAccountsRepository(mysqlDB)
	funnelsRepo := repository.NewFunnelsRepository(mysqlDB)
	pixelsRepo := repository.NewPixelsRepository(mysqlDB)
	channelsRepo := repository.NewChannelsRepository(mysqlDB)
	usageRepo := repository.NewUsageRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)

	// repos (ClickHouse)
	chEventsRepo := repository.NewCHEventsRepository(clickhouseDB)

	// services
	clickSvc := click.New(mysqlDB, usageRepo, outboxRepo, cfg.Quota.DefaultLimit, cfg.Quota.Window)

	events := eventlog.New(
		chEventsRepo,
		eventlog.NewRedisDeadLetter(rds, cfg.EventLog.DLQKey),
		zlog,
		eventlog.Config{
			QueueSize:   cfg.EventLog.QueueSize,
			Workers:     cfg.EventLog.Workers,
			MaxAttempts: cfg.EventLog.MaxAttempts,
			BaseBackoff: cfg.EventLog.BaseBackoff,
		},
	)

	resolver := track.NewResolver(funnelsRepo, cfg.Pipeline.ResolverTTL)

	extractor := &track.Extractor{
		TrustProxy:   cfg.HTTP.TrustProxy,
		NewVisitorID: func() string { return uuid.NewString() },
		Now:          time.Now,
	}

	orch := &track.Orchestrator{
		Resolver: resolver,
		Gate:     clickSvc,
		Events:   events,
		Targets: track.Targets{
			Landing:   cfg.Redirects.LandingURL,
			Inactive:  cfg.Redirects.InactiveURL,
			PlanLimit: cfg.Redirects.PlanLimitURL,
		},
		Deadline: cfg.Pipeline.Deadline,
		NewID:    util.NewULID,
		Log:      zlog,
	}

	capi := forwarder.NewCAPIClient(
		cfg.Forwarder.GraphBaseURL,
		cfg.Forwarder.Timeout,
		nil, // validation calls are rare, no breaker needed on this path
	)

	tgValidator := telegram.NewValidator()

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(accountsRepo)
	rlMW := middleware.RateLimitByIP(middleware.RateLimitConfig{
		Redis:          rds,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ip:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// public redirect route
	e.GET("/:slug", redirectHandler(extractor, orch), rlMW)

	// dashboard API
	v1 := e.Group("/v1", authMW)
	v1.GET("/usage", usageHandler(clickSvc))
	v1.POST("/plan", planHandler(accountsRepo, clickSvc))
	v1.GET("/reports/clicks", listClicksHandler(chEventsRepo))
	v1.POST("/pixels", createPixelHandler(pixelsRepo, capi))
	v1.POST("/pixels/:id/revalidate", revalidatePixelHandler(pixelsRepo, capi))
	v1.POST("/channels", createChannelHandler(channelsRepo, tgValidator))
	v1.POST("/funnels", createFunnelHandler(funnelsRepo, pixelsRepo, channelsRepo))
	v1.POST("/funnels/:slug/disable", disableFunnelHandler(funnelsRepo, resolver))
	v1.POST("/funnels/:slug/invalidate", invalidateFunnelHandler(resolver))

	return &Server{e: e, events: events}
}

// Events exposes the logging queue so serve can run its drain workers and the
// dead-letter redrive schedule.
func (s *Server) Events() *eventlog.Logger { return s.events }

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
