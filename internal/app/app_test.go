package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkhub/internal/config"
)

func TestNewLogger(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Level = "debug"
	logger := NewLogger(cfg, "booking")
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	cfg.Logging.Level = "nonsense"
	assert.Equal(t, zerolog.InfoLevel, NewLogger(cfg, "booking").GetLevel())
}

func TestHealthHandler(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	assert.Nil(t, OpenRedis(cfg))
	cfg.Redis.Address = mr.Addr()
	rdb := OpenRedis(cfg)
	require.NotNil(t, rdb)
	t.Cleanup(func() { _ = rdb.Close() })

	var dbDown bool
	h := HealthHandler(
		Check{Name: "db", Probe: func(context.Context) error {
			if dbDown {
				return errors.New("closed")
			}
			return nil
		}},
		RedisCheck(rdb),
	)

	get := func(path string) (int, string) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code, rec.Body.String()
	}

	code, body := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)

	mr.Close()
	code, body = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "redis not ready")

	dbDown = true
	_, body = get("/readyz")
	assert.Contains(t, body, "db not ready")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	logger := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, NewServer(addr, MetricsHandler()), &logger) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestPort(t *testing.T) {
	assert.Equal(t, ":8090", Port(0, 8090))
	assert.Equal(t, ":9100", Port(9100, 8090))
}
