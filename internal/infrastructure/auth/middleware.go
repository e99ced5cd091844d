package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/honeynil/paisa-tracker/internal/infrastructure/redis"
)

const SessionCookie = "session"

type contextKey struct{}

// TokenKey is where the live token for a user is kept; logout deletes it.
func TokenKey(userID int64) string {
	return fmt.Sprintf("user:%d:token", userID)
}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(contextKey{}).(int64)
	return id, ok
}

// SessionMiddleware attaches the user id of a valid, unrevoked session cookie
// to the request context. Requests without one pass through anonymous.
func SessionMiddleware(redisClient redis.RedisClient, tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := tokens.Parse(cookie.Value)
			if err != nil {
				slog.Debug("ignoring invalid session", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			// Check token in Redis
			storedToken, err := redisClient.Get(r.Context(), TokenKey(claims.UserID))
			if err != nil || storedToken != cookie.Value {
				slog.Warn("invalid or revoked token", "user_id", claims.UserID, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
		})
	}
}

// RequireSession answers 401 unless SessionMiddleware authenticated the request.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserIDFromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "Not authenticated"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
