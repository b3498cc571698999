package tenant

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/shelfmark/shelfmark/internal/apperrors"
	"github.com/shelfmark/shelfmark/internal/auth"
)

type ctxKey string

const tenantContextKey ctxKey = "tenant_context"

// WithContext resolves the authenticated principal's tenant context and
// injects it into the request context. Must run after auth.RequireAuth.
// Resolution failures answer 503 so the client retries instead of acting on
// stale or half-loaded state.
func WithContext(m *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.GetUserID(r.Context())

			tc := m.Acquire(userID)
			if err := tc.EnsureResolved(r.Context()); err != nil {
				log.Error().
					Err(err).
					Str("user_id", userID.String()).
					Msg("Failed to resolve tenant context")
				apperrors.WriteServiceUnavailable(w, r, "Could not load your organizations. Please try again.")
				return
			}

			ctx := context.WithValue(r.Context(), tenantContextKey, tc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext retrieves the tenant context injected by WithContext.
// Returns nil when the middleware did not run.
func FromContext(ctx context.Context) *Context {
	tc, ok := ctx.Value(tenantContextKey).(*Context)
	if !ok {
		return nil
	}
	return tc
}

// RequireTenant rejects requests from principals with no current
// organization. Routes behind it can assume a Resolved context.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := FromContext(r.Context())
		if tc == nil || tc.Snapshot().State != StateResolved {
			apperrors.WriteForbidden(w, r, "Select or create an organization first")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCapability gates a route on a derived capability flag. The message
// is fixed user-facing copy; backend authorization text is never echoed.
func RequireCapability(check func(Capabilities) bool, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc := FromContext(r.Context())
			if tc == nil {
				apperrors.WriteForbidden(w, r, "Select or create an organization first")
				return
			}
			snap := tc.Snapshot()
			if snap.State != StateResolved || !check(snap.Capabilities) {
				apperrors.WriteForbidden(w, r, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireLibrarian gates book-management routes.
func RequireLibrarian(next http.Handler) http.Handler {
	return RequireCapability(func(c Capabilities) bool { return c.CanManageBooks },
		"Only librarians can manage books")(next)
}

// RequireAdmin gates member-management routes.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireCapability(func(c Capabilities) bool { return c.CanManageMembers },
		"Only admins can manage members")(next)
}
