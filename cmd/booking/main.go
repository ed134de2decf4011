package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"parkhub/internal/api"
	"parkhub/internal/app"
	"parkhub/internal/auth"
	"parkhub/internal/config"
	"parkhub/internal/database"
	"parkhub/internal/events"
	"parkhub/internal/outbox"
	"parkhub/internal/parkingapi"
	"parkhub/internal/reconcile"
	"parkhub/internal/repository"
	"parkhub/internal/service"
)

func main() {
	cfg, err := config.Load(app.ConfigPath("configs/booking.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg, service.Producer)

	if err = cfg.Validate(true); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.NewDB(cfg.Database.Path, database.BookingSchema, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	rdb := app.OpenRedis(cfg)
	if rdb == nil {
		logger.Fatal().Msg("redis.address must be set")
	}
	defer rdb.Close()

	bus := events.NewRedisBus(rdb, events.RetryPolicy{
		MaxRetries:  cfg.EventMaxRetries(),
		RetryDelays: cfg.EventRetryDelays(),
	}, &logger)

	relay := outbox.NewRelay(repository.NewOutboxRepo(db), bus, outbox.Config{
		PollInterval:     cfg.OutboxPollInterval(),
		BatchSize:        cfg.OutboxBatchSize(),
		MaxAttempts:      cfg.OutboxMaxAttempts(),
		PublishPerSecond: cfg.OutboxPublishRate(),
	}, &logger)

	checks := []app.Check{app.PingCheck("db", db), app.RedisCheck(rdb)}
	var lots service.LotDirectory
	if cfg.ParkingAPI.BaseURL != "" {
		client := parkingapi.NewClient(cfg.ParkingAPI.BaseURL, cfg.ParkingAPITimeout())
		if ttl := cfg.ParkingAPICacheTTL(); ttl > 0 {
			client.UseRedisCache(rdb, ttl)
		}
		if cfg.ParkingAPI.HealthURL != "" {
			client.UseHealthURL(cfg.ParkingAPI.HealthURL)
			checks = append(checks, app.Check{Name: "parking", Probe: client.HealthCheck})
		}
		lots = client
	}

	bookings := repository.NewBookingRepo(db)
	svc := service.NewBookingService(bookings, lots, relay, &logger)
	svc.Subscribe(bus)

	sweeper := reconcile.NewSweeper(bookings, relay, reconcile.Config{
		Interval:     cfg.ReconcileInterval(),
		PendingAfter: cfg.ReconcilePendingAfter(),
		GiveUpAfter:  cfg.ReconcileGiveUpAfter(),
	}, &logger)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, time.Hour)
	router := api.NewRouter(api.MiddlewareConfig{
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute(),
	}, &logger)
	api.NewBookingHandler(svc, &logger).Register(router, auth.NewMiddleware(tokens, &logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	if cfg.Reconcile.Enabled {
		g.Go(func() error {
			sweeper.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return database.NewBackupService(db, cfg.Backup, "bookings", &logger).Start(gctx)
	})
	g.Go(func() error {
		return app.Serve(gctx, app.NewServer(cfg.HTTPAddress(), router), &logger)
	})
	g.Go(func() error {
		return app.Serve(gctx, app.NewServer(app.Port(cfg.Monitoring.HealthCheckPort, 8090), app.HealthHandler(checks...)), &logger)
	})
	if cfg.Monitoring.PrometheusEnabled {
		g.Go(func() error {
			return app.Serve(gctx, app.NewServer(app.Port(cfg.Monitoring.PrometheusPort, 9090), app.MetricsHandler()), &logger)
		})
	}

	logger.Info().Str("addr", cfg.HTTPAddress()).Msg("Booking service started")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("booking service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("Booking service stopped")
}
