package admin

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	request "certledger/pkg/platform/middleware/request"
	"certledger/pkg/requestcontext"
)

// HeaderActor names the operator acting with the admin token. It is recorded
// on audit events and defaults to "admin".
const HeaderActor = "X-Admin-Actor"

// RequireAdminToken rejects requests whose X-Admin-Token does not match
// expectedToken. expectedToken may be a bcrypt hash so the plaintext never
// has to sit in the environment.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tokenMatches(r.Header.Get("X-Admin-Token"), expectedToken) {
				ctx := r.Context()
				requestID := request.GetRequestID(ctx)
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestID,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}

			actor := strings.TrimSpace(r.Header.Get(HeaderActor))
			if actor == "" {
				actor = "admin"
			}
			ctx := requestcontext.WithActorID(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HashToken returns the bcrypt hash to configure in place of a plaintext token.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("admin token cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("could not hash admin token: %w", err)
	}
	return string(hashed), nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func tokenMatches(token, expected string) bool {
	if expected == "" || token == "" {
		return false
	}
	if isBcryptHash(expected) {
		return bcrypt.CompareHashAndPassword([]byte(expected), []byte(token)) == nil
	}
	// Constant-time comparison prevents timing attacks.
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}
