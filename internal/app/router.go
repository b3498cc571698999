package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/shelfmark/shelfmark/internal/apperrors"
	"github.com/shelfmark/shelfmark/internal/audit"
	"github.com/shelfmark/shelfmark/internal/auth"
	"github.com/shelfmark/shelfmark/internal/billing"
	"github.com/shelfmark/shelfmark/internal/circulation"
	"github.com/shelfmark/shelfmark/internal/email"
	"github.com/shelfmark/shelfmark/internal/invites"
	"github.com/shelfmark/shelfmark/internal/tenant"
)

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(a *App) *chi.Mux {
	r := chi.NewRouter()

	cfg := a.Config
	isProduction := !cfg.IsDev()

	// Middleware stack
	r.Use(middleware.RealIP)                    // Set RemoteAddr to real IP
	r.Use(apperrors.RequestIDMiddleware)        // Add request ID to context
	r.Use(LoggingMiddleware)                    // Structured request logging
	r.Use(RecoveryMiddleware)                   // Recover from panics
	r.Use(cors.Handler(cors.Options{            // CORS (pinned dep)
		AllowedOrigins:   []string{cfg.AppOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(auth.Middleware(cfg.JWTSecret)) // Validate session cookies

	auditor := audit.NewWriter(a.Platform.Pool())

	// Health check routes (no authentication required)
	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(a.Platform))
	r.Get("/api/health/ping", handlePing(a.Platform))
	r.Post("/api/health/ping", handlePing(a.Platform))

	// Registration keeps its historical path; everything else lives under
	// /api/v1/auth.
	r.With(ContentTypeJSON, CSRFMiddleware(isProduction), LoginRateLimitMiddleware()).
		Post("/api/auth/register", auth.HandleRegister(a.Identity, a.Platform, a.Profiles, auditor, cfg.SessionDays, isProduction))

	// Authentication
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware(isProduction))

		r.Get("/csrf", auth.HandleCSRF(isProduction))

		r.With(LoginRateLimitMiddleware()).
			Post("/login", auth.HandleLogin(a.Identity, a.Profiles, auditor, cfg.SessionDays, isProduction))
		r.With(LoginRateLimitMiddleware()).
			Post("/reset-password", auth.HandleResetPassword(a.Identity))
		r.With(LoginRateLimitMiddleware()).
			Post("/magic-link", auth.HandleMagicLink(a.Identity))

		r.With(auth.RequireAuth).Post("/logout", auth.HandleLogout(a.Tenants))
		r.With(auth.RequireAuth).Post("/password", auth.HandleUpdatePassword(a.Identity, a.Profiles, auditor))
	})

	// Tenant context: resolution, switching, organization creation, stats
	r.Route("/api/v1/tenant", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware(isProduction))
		r.Use(auth.RequireAuth)
		r.Use(APIRateLimitMiddleware(cfg.RateLimitRPM))

		r.Get("/", tenant.HandleGetContext(a.Tenants))
		r.Get("/organizations", tenant.HandleListOrganizations(a.Tenants))
		r.Post("/organizations", tenant.HandleCreateOrganization(a.Tenants, auditor))
		r.Post("/switch", tenant.HandleSwitch(a.Tenants, auditor))
		r.Get("/stats", tenant.HandleGetStats(a.Tenants))
		r.Post("/stats/refresh", tenant.HandleRefreshStats(a.Tenants))
	})

	// Invitations. Accepting needs no tenant: the invitee may have none yet.
	r.With(
		ContentTypeJSON,
		CSRFMiddleware(isProduction),
		auth.RequireAuth,
		APIRateLimitMiddleware(cfg.RateLimitRPM),
	).Post("/api/v1/invites/accept", invites.HandleAccept(a.Tenants, a.Platform, auditor))

	r.Route("/api/v1/orgs/{org_id}/invites", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware(isProduction))
		r.Use(auth.RequireAuth)
		r.Use(APIRateLimitMiddleware(cfg.RateLimitRPM))
		r.Use(tenant.WithContext(a.Tenants))
		r.Use(tenant.RequireTenant)
		r.Use(tenant.RequireAdmin)

		r.Post("/", invites.HandleCreate(a.Platform, a.Email, auditor))
	})

	// Invitation email redelivery
	r.Route("/api/email", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware(isProduction))
		r.Use(auth.RequireAuth)
		r.Use(tenant.WithContext(a.Tenants))
		r.Use(tenant.RequireTenant)
		r.Use(tenant.RequireAdmin)

		r.Post("/invite", email.HandleSendInvite(a.Platform, a.Email))
	})

	// Billing
	r.Route("/api/stripe", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware(isProduction))
		r.Use(auth.RequireAuth)
		r.Use(tenant.WithContext(a.Tenants))

		if a.Billing != nil {
			r.Post("/checkout", billing.HandleCheckout(a.Billing, auditor))
			r.Post("/portal", billing.HandlePortal(a.Billing, auditor))
		} else {
			r.Post("/checkout", handleBillingDisabled)
			r.Post("/portal", handleBillingDisabled)
		}
	})

	// Circulation
	r.Route("/api/v1/circulation", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware(isProduction))
		r.Use(auth.RequireAuth)
		r.Use(APIRateLimitMiddleware(cfg.RateLimitRPM))
		r.Use(tenant.WithContext(a.Tenants))
		r.Use(tenant.RequireTenant)

		r.Get("/dashboard", circulation.HandleDashboard(a.Platform))
		r.Post("/borrow", circulation.HandleBorrow(a.Platform, auditor))
		r.With(tenant.RequireLibrarian).
			Post("/return", circulation.HandleReturn(a.Platform, auditor))
		r.Post("/reserve", circulation.HandleReserve(a.Platform, auditor))
	})

	return r
}

// handleHealthz returns a simple liveness check
// Always returns 200 OK if the service is running
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// pinger is the slice of the platform client the health handlers need.
type pinger interface {
	Ping(ctx context.Context) error
}

// handleReadyz returns a readiness check that includes database connectivity
// Returns 200 OK if service is ready to accept traffic, 503 if not
func handleReadyz(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Database connection failed")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"status": "ready",
			"db":     "ok",
		})
	}
}

// handlePing reports platform round-trip time. Unauthenticated: used by
// uptime monitors and keep-warm schedulers, so it must never depend on a
// session.
func handlePing(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if err := store.Ping(r.Context()); err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Database connection failed")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"status":           "ok",
			"message":          "pong",
			"timestamp":        time.Now().UTC().Format(time.RFC3339),
			"response_time_ms": time.Since(start).Milliseconds(),
		})
	}
}

func handleBillingDisabled(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteServiceUnavailable(w, r, "Billing is not configured")
}
