// Package middleware provides the HTTP middleware specific to the posting API:
// session authentication and CORS.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/chirp/internal/auth/session"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/logger"
)

// Verifier checks a raw session token.
type Verifier interface {
	Verify(raw string) (session.Claims, error)
}

// RequireSession rejects requests without a valid session token with 401.
func RequireSession(v Verifier) func(http.Handler) http.Handler {
	return authenticate(v, true)
}

// OptionalSession attaches the caller's identity when a valid token is sent
// and lets anonymous requests through. An invalid token is still rejected.
func OptionalSession(v Verifier) func(http.Handler) http.Handler {
	return authenticate(v, false)
}

func authenticate(v Verifier, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractToken(r)
			if raw == "" && !required {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := v.Verify(raw)
			if err != nil {
				logger.FromContext(r.Context()).Info("session rejected",
					"component", "auth-middleware",
					"path", r.URL.Path,
					"error", err,
				)
				writeError(w, apperrors.HTTPStatusCode(err), "unauthenticated")
				return
			}

			ctx := session.WithClaims(r.Context(), claims)
			ctx = logger.WithIdentity(ctx, claims.Identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken reads the session token from the Authorization header, falling
// back to the __session cookie set by the provider's frontend SDK.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if c, err := r.Cookie("__session"); err == nil {
		return c.Value
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
