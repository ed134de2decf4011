// Package app holds the process plumbing shared by the parkhub binaries:
// logging, Redis, HTTP servers with graceful shutdown and the monitoring
// endpoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"parkhub/internal/config"
	"parkhub/internal/metrics"
)

const shutdownTimeout = 3 * time.Second

// ConfigPath returns $PARKHUB_CONFIG, or def when it is unset.
func ConfigPath(def string) string {
	if p := os.Getenv("PARKHUB_CONFIG"); p != "" {
		return p
	}
	return def
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg *config.Config, service string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil || cfg.Logging.Level == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Logging.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("service", service).Logger()
}

// OpenRedis returns a client for the configured Redis, or nil when none is set.
func OpenRedis(cfg *config.Config) redis.UniversalClient {
	if cfg.Redis.Address == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// Check reports whether a dependency is ready to serve.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// PingCheck adapts anything with PingContext, such as *sql.DB.
func PingCheck(name string, p interface{ PingContext(context.Context) error }) Check {
	return Check{Name: name, Probe: p.PingContext}
}

// RedisCheck pings a Redis client.
func RedisCheck(rdb redis.UniversalClient) Check {
	return Check{Name: "redis", Probe: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }}
}

// HealthHandler serves /healthz (liveness) and /readyz (all checks pass).
func HealthHandler(checks ...Check) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		for _, c := range checks {
			if err := c.Probe(ctx); err != nil {
				http.Error(w, c.Name+" not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// MetricsHandler registers the collectors and serves them at /metrics.
func MetricsHandler() http.Handler {
	metrics.Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
	}
	return nil
}

// NewServer builds an http.Server with the timeouts used by every service.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Port formats a listen address, falling back to def when port is zero.
func Port(port, def int) string {
	if port == 0 {
		port = def
	}
	return fmt.Sprintf(":%d", port)
}
