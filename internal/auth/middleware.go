package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// claimsContextKey is the context key for storing the session claims
	claimsContextKey contextKey = "session_claims"
)

// Middleware validates the session cookie and injects the session claims
// into the request context. If the session is invalid, it clears the cookie
// and continues without authentication.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := GetSessionCookie(r)
			if token == "" {
				// No session cookie - continue without authentication
				next.ServeHTTP(w, r)
				return
			}

			claims, err := ValidateToken(token, secret)
			if err != nil {
				// Invalid or expired token - clear cookie and continue
				log.Debug().Err(err).Msg("Invalid session token")
				ClearSessionCookie(w)
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth is middleware that requires an authenticated principal.
// Returns 401 if the user is not authenticated.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == uuid.Nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClaims retrieves the session claims from the request context.
// Returns nil if no user is authenticated.
func GetClaims(ctx context.Context) *Claims {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetUserID retrieves the principal id from the request context.
// Returns uuid.Nil if no user is authenticated.
func GetUserID(ctx context.Context) uuid.UUID {
	claims := GetClaims(ctx)
	if claims == nil {
		return uuid.Nil
	}
	return claims.UserID()
}

// GetUserEmail retrieves the principal email from the request context.
// Returns an empty string if no user is authenticated.
func GetUserEmail(ctx context.Context) string {
	claims := GetClaims(ctx)
	if claims == nil {
		return ""
	}
	return claims.Email
}
