// Package api exposes the booking and parking services over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// NewRouter returns a chi router with the common middleware stack installed.
func NewRouter(cfg MiddlewareConfig, logger *zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(Stack(cfg, logger)...)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
