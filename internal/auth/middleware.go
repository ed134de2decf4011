package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"parkhub/internal/models"
)

type contextKey struct{}

// WithRequester stores the caller identity in ctx.
func WithRequester(ctx context.Context, req models.Requester) context.Context {
	return context.WithValue(ctx, contextKey{}, req)
}

// FromContext returns the caller identity stored by Authenticate.
func FromContext(ctx context.Context) (models.Requester, bool) {
	req, ok := ctx.Value(contextKey{}).(models.Requester)
	return req, ok
}

// Middleware guards HTTP handlers.
type Middleware struct {
	tokens *TokenManager
	logger *zerolog.Logger
}

func NewMiddleware(tokens *TokenManager, logger *zerolog.Logger) *Middleware {
	return &Middleware{tokens: tokens, logger: logger}
}

// Authenticate rejects requests without a valid bearer token.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			deny(w, http.StatusUnauthorized, "authorization header missing or invalid")
			return
		}
		claims, err := m.tokens.Validate(strings.TrimSpace(token))
		if err != nil {
			m.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("token rejected")
			deny(w, http.StatusUnauthorized, ErrInvalidToken.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithRequester(r.Context(), claims.Requester())))
	})
}

// RequireRole lets through only callers with role. It must run after Authenticate.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, ok := FromContext(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if req.Role != role {
				deny(w, http.StatusForbidden, strings.ToLower(role)+" access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
