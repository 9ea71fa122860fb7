package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/iliyamo/evee/internal/config"
	"github.com/iliyamo/evee/internal/database"
	"github.com/iliyamo/evee/internal/live"
	"github.com/iliyamo/evee/internal/logging"
	"github.com/iliyamo/evee/internal/middleware"
	"github.com/iliyamo/evee/internal/queue"
	"github.com/iliyamo/evee/internal/repository"
	"github.com/iliyamo/evee/internal/router"
	"github.com/iliyamo/evee/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	db, err := database.Open(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := config.NewRedisClient(ctx)
	switch {
	case errors.Is(err, config.ErrRedisDisabled):
		logger.Info("redis disabled; cache and rate limiting off")
	case err != nil:
		logger.Warn("redis unavailable; cache and rate limiting off", zap.Error(err))
	default:
		defer rdb.Close()
	}
	cacheCfg := config.LoadCacheConfig()

	allowed := make(map[string]bool)
	for _, o := range cfg.AllowedOrigins() {
		allowed[o] = true
	}
	hub := live.NewHub(cfg.LivePingInterval, func(origin string) bool { return allowed[origin] }, logger)
	// the cache is invalidated before subscribers are told to refetch
	var observers service.Observers
	if rdb != nil {
		observers = append(observers, middleware.NewCachePurger(rdb, cacheCfg.Prefix, logger))
	}
	observers = append(observers, hub)

	var (
		wg     sync.WaitGroup
		events service.EventPublisher
	)
	// the publisher outlives in-flight requests so their events are flushed
	pubCtx, stopPublisher := context.WithCancel(context.Background())
	defer stopPublisher()
	if cfg.EventsEnabled {
		pub := queue.NewPublisher(cfg.RabbitURL, logger)
		consumer := queue.NewConsumer(cfg.RabbitURL, queue.DefaultLogPath, logger)
		events = pub
		wg.Add(2)
		go func() {
			defer wg.Done()
			pub.Run(pubCtx)
		}()
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("booking event consumer stopped", zap.Error(err))
			}
		}()
	}

	users := repository.NewUserRepo(db)
	stations := repository.NewStationRepo(db)
	bookings := repository.NewBookingRepo(db)
	tokens := repository.NewTokenRepo(db)

	e := router.New(router.Deps{
		Config:    cfg,
		Cache:     cacheCfg,
		RateLimit: config.LoadRateLimitConfig(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Hub:       hub,
		Auth: service.NewAuthService(users, tokens, service.AuthConfig{
			JWTSecret:      cfg.JWTSecret,
			AccessTTL:      cfg.AccessTTL(),
			RefreshTTLDays: cfg.RefreshTTLDays,
			BcryptCost:     cfg.BcryptCost,
		}, logger),
		Stations: service.NewStationService(db, stations, bookings, observers, logger),
		Bookings: service.NewBookingService(db, bookings, stations, events, observers, logger),
		Users:    service.NewUserService(users, stations, tokens, cfg.BcryptCost, logger),
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("database", string(db.Dialect)),
			zap.Bool("fallback", db.Fallback))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	logger.Info("shutting down http server")
	hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	stopPublisher()
	wg.Wait()
	return err
}
