package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"parkhub/internal/api"
	"parkhub/internal/app"
	"parkhub/internal/config"
	"parkhub/internal/events"
	"parkhub/internal/notify"
)

func main() {
	cfg, err := config.Load(app.ConfigPath("configs/notify.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg, "notification-service")

	rdb := app.OpenRedis(cfg)
	if rdb == nil {
		logger.Fatal().Msg("redis.address must be set")
	}
	defer rdb.Close()

	bus := events.NewRedisBus(rdb, events.RetryPolicy{
		MaxRetries:  cfg.EventMaxRetries(),
		RetryDelays: cfg.EventRetryDelays(),
	}, &logger)

	hub := notify.NewHub(&logger)
	ttl := cfg.NotifyDedupeTTL()
	dedupe := notify.NewFailoverDeduper(notify.NewRedisDeduper(rdb, ttl), notify.NewMemoryDeduper(ttl), &logger)
	notify.NewFanout(hub, dedupe, &logger).Subscribe(bus)

	router := api.NewRouter(api.MiddlewareConfig{RateLimitPerMinute: cfg.RateLimitPerMinute()}, &logger)
	router.Handle("/ws", notify.NewHandler(hub, cfg.HTTP.AllowedOrigins))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return bus.Run(gctx) })
	g.Go(func() error {
		return app.Serve(gctx, app.NewServer(cfg.HTTPAddress(), router), &logger)
	})
	g.Go(func() error {
		health := app.HealthHandler(app.RedisCheck(rdb))
		return app.Serve(gctx, app.NewServer(app.Port(cfg.Monitoring.HealthCheckPort, 8092), health), &logger)
	})
	if cfg.Monitoring.PrometheusEnabled {
		g.Go(func() error {
			return app.Serve(gctx, app.NewServer(app.Port(cfg.Monitoring.PrometheusPort, 9092), app.MetricsHandler()), &logger)
		})
	}

	logger.Info().Str("addr", cfg.HTTPAddress()).Msg("Notification service started")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("notification service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("Notification service stopped")
}
