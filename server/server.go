package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/haasonsaas/areuok/pkg/cache"
	"github.com/haasonsaas/areuok/pkg/config"
	"github.com/haasonsaas/areuok/pkg/events"
	"github.com/haasonsaas/areuok/pkg/health"
	"github.com/haasonsaas/areuok/pkg/identity"
	"github.com/haasonsaas/areuok/pkg/status"
	"github.com/haasonsaas/areuok/pkg/storage"
	"github.com/haasonsaas/areuok/pkg/streak"
	"github.com/haasonsaas/areuok/pkg/supervision"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Server struct {
	identity    *identity.Store
	streaks     *streak.Engine
	supervision *supervision.Directory
	status      *status.Projector

	probes  []health.Probe
	limiter *RateLimiter
	limits  config.RateLimitConfig
	logger  zerolog.Logger
}

type serverDeps struct {
	config    *config.ServerConfig
	db        *gorm.DB
	cache     cache.Cache
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func newServer(deps serverDeps) *Server {
	cfg := deps.config
	ids := identity.NewStore(deps.db, identity.Options{
		Policy: identity.NamePolicy{
			CaseSensitive: cfg.Naming.CaseSensitive,
			MinLength:     cfg.Naming.MinLength,
			MaxLength:     cfg.Naming.MaxLength,
			Reserved:      cfg.Naming.Reserved,
		},
		CooldownDays:   cfg.Naming.CooldownDays,
		Location:       cfg.Location(),
		SearchMinQuery: cfg.Search.MinQueryLength,
		SearchLimit:    cfg.Search.Limit,
		Cache:          deps.cache,
		CacheTTL:       cfg.CacheTTL(),
		Publisher:      deps.publisher,
		Logger:         deps.logger,
		Now:            deps.now,
	})
	streaks := streak.NewEngine(deps.db, streak.Options{
		Location:    cfg.Location(),
		Invalidator: ids,
		Publisher:   deps.publisher,
		Logger:      deps.logger,
		Now:         deps.now,
	})
	dir := supervision.NewDirectory(deps.db, supervision.Options{
		Names:     ids,
		Publisher: deps.publisher,
		Logger:    deps.logger,
		Now:       deps.now,
	})

	probes := []health.Probe{{
		Name:  "database",
		Check: func(ctx context.Context) error { return storage.Ping(ctx, deps.db) },
	}}
	if deps.cache != nil {
		probes = append(probes, health.Probe{Name: "cache", Check: deps.cache.Ping})
	}

	return &Server{
		identity:    ids,
		streaks:     streaks,
		supervision: dir,
		status:      status.NewProjector(ids, streaks, dir),
		probes:      probes,
		limiter:     NewRateLimiter(),
		limits:      cfg.RateLimit,
		logger:      deps.logger,
	}
}

func (s *Server) routes(r *gin.Engine) {
	r.Use(withRequestContext(s.logger))
	s.registerDeviceRoutes(r)
	s.registerSupervisionRoutes(r)
	r.GET("/v1/health", s.handleHealth)
}

func (s *Server) handleHealth(c *gin.Context) {
	report := health.Check(c.Request.Context(), 2*time.Second, s.probes...)
	code := http.StatusOK
	if !report.Healthy {
		code = http.StatusServiceUnavailable
		logger := requestLogger(c, s.logger)
		logger.Warn().Strs("issues", report.Issues).Msg("health check failed")
	}
	c.JSON(code, report)
}
