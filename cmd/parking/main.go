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
	"parkhub/internal/inventory"
	"parkhub/internal/outbox"
	"parkhub/internal/repository"
)

func main() {
	cfg, err := config.Load(app.ConfigPath("configs/parking.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg, inventory.Producer)

	if err = cfg.Validate(true); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.NewDB(cfg.Database.Path, database.InventorySchema, &logger)
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

	spots := repository.NewSpotRepo(db)
	inventory.NewReactor(spots, relay, &logger).Subscribe(bus)
	svc := inventory.NewService(spots, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Lots.File != "" {
		watcher := &config.LotsWatcher{
			Path:     cfg.Lots.File,
			Interval: cfg.LotsWatchInterval(),
			OnUpdate: func(lots *config.LotsConfig) {
				if err := svc.ApplyLotsFile(ctx, lots); err != nil {
					logger.Error().Err(err).Msg("failed to apply lots file")
				}
			},
			OnError: func(err error) {
				logger.Warn().Err(err).Str("path", cfg.Lots.File).Msg("lots file reload failed")
			},
		}
		if err := watcher.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("load lots file error")
		}
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, time.Hour)
	router := api.NewRouter(api.MiddlewareConfig{
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute(),
	}, &logger)
	api.NewParkingHandler(svc, &logger).Register(router, auth.NewMiddleware(tokens, &logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		return database.NewBackupService(db, cfg.Backup, "parking", &logger).Start(gctx)
	})
	g.Go(func() error {
		return app.Serve(gctx, app.NewServer(cfg.HTTPAddress(), router), &logger)
	})
	g.Go(func() error {
		health := app.HealthHandler(app.PingCheck("db", db), app.RedisCheck(rdb))
		return app.Serve(gctx, app.NewServer(app.Port(cfg.Monitoring.HealthCheckPort, 8091), health), &logger)
	})
	if cfg.Monitoring.PrometheusEnabled {
		g.Go(func() error {
			return app.Serve(gctx, app.NewServer(app.Port(cfg.Monitoring.PrometheusPort, 9091), app.MetricsHandler()), &logger)
		})
	}

	logger.Info().Str("addr", cfg.HTTPAddress()).Msg("Parking service started")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("parking service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("Parking service stopped")
}
