// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jive-live/jive-server/pkg/logger"
)

type contextKey string

const accountIDKey contextKey = "account_id"

// TokenVerifier checks a bearer token and returns the account id it was
// issued to.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// AuthMiddleware authenticates requests with a bearer token.
type AuthMiddleware struct {
	verifier TokenVerifier
	log      *logger.Logger
}

// NewAuthMiddleware creates an authentication middleware.
func NewAuthMiddleware(verifier TokenVerifier, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{
		verifier: verifier,
		log:      log,
	}
}

// Handler rejects requests without a valid bearer token and stores the
// authenticated account id in the request context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondUnauthorized(w, r, "missing Authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.respondUnauthorized(w, r, "invalid Authorization header format")
			return
		}

		accountID, err := m.verifier.VerifyToken(parts[1])
		if err != nil {
			m.log.WithError(err).WithField("path", r.URL.Path).Debug("token rejected")
			m.respondUnauthorized(w, r, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) respondUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]map[string][]string{
		"errors": {"token": {message}},
	})
}

// GetAccountID extracts the authenticated account id from the context.
func GetAccountID(ctx context.Context) string {
	id, _ := ctx.Value(accountIDKey).(string)
	return id
}

// WithAccountID returns a context carrying the account id. Intended for
// tests.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}
