package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/haasonsaas/areuok/pkg/cache"
	"github.com/haasonsaas/areuok/pkg/config"
	"github.com/haasonsaas/areuok/pkg/events"
	"github.com/haasonsaas/areuok/pkg/storage"
	"github.com/haasonsaas/areuok/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	configFile = flag.String("config", "areuok.yaml", "Config file path")
	Version    = "dev"
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	configureLogger(cfg.Logging)
	logger := log.Logger.With().Str("component", "server").Logger()
	logger.Info().Str("version", Version).Str("timezone", cfg.Streak.Timezone).Msg("areuok server starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := telemetry.Setup(ctx, cfg.Tracing, "areuok-server", Version, log.Logger)
	if err != nil {
		return err
	}
	defer shutdownWithTimeout(tracer.Shutdown, logger, "tracer")

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if err := storage.Migrate(ctx, db); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	var deviceCache cache.Cache = cache.NewMemoryCache()
	if cfg.Cache.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return err
		}
		redisCache := cache.NewRedisCache(client)
		defer redisCache.Close()
		deviceCache = redisCache
		logger.Info().Msg("using redis device cache")
	}

	var publisher events.Publisher = events.NewLoggingPublisher(log.Logger)
	if len(cfg.Events.Brokers) > 0 {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		if err != nil {
			return err
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		logger.Info().Strs("brokers", cfg.Events.Brokers).Str("topic", cfg.Events.Topic).Msg("publishing events to kafka")
	}

	srv := newServer(serverDeps{
		config:    cfg,
		db:        db,
		cache:     deviceCache,
		publisher: publisher,
		logger:    log.Logger,
		now:       time.Now,
	})
	go srv.sweepRateLimits(ctx, time.Minute)

	if cfg.Logging.Level != "debug" && cfg.Logging.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	srv.routes(r)

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.Server.Listen).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func configureLogger(cfg config.LoggingConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil && cfg.Level != "" {
		level = parsed
	}
	log.Logger = newLogger(cfg.JSON).Level(level)
	zerolog.SetGlobalLevel(level)
}

func newLogger(json bool) zerolog.Logger {
	if json {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger()
}

func shutdownWithTimeout(fn func(context.Context) error, logger zerolog.Logger, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn().Err(err).Str("target", name).Msg("shutdown failed")
	}
}

func (s *Server) sweepRateLimits(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Sweep(); n > 0 {
				s.logger.Debug().Int("keys", n).Msg("expired rate limit windows")
			}
		}
	}
}
