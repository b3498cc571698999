package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shelfmark/shelfmark/internal/billing"
	"github.com/shelfmark/shelfmark/internal/config"
	"github.com/shelfmark/shelfmark/internal/email"
	"github.com/shelfmark/shelfmark/internal/identity"
	"github.com/shelfmark/shelfmark/internal/platform"
	"github.com/shelfmark/shelfmark/internal/profile"
	"github.com/shelfmark/shelfmark/internal/tenant"
)

// App holds the application state
type App struct {
	Config   *config.Config
	Platform *platform.Client
	Identity *identity.Client
	Email    *email.Sender
	Billing  *billing.Orchestrator
	Profiles *profile.Syncer
	Tenants  *tenant.Manager
	Router   http.Handler

	server *http.Server
}

// New creates and initializes a new application instance
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// Initialize logger
	setupLogger(cfg.LogLevel)

	log.Info().Msg("Initializing Shelfmark application")
	log.Info().Interface("config", cfg.RedactedValues()).Msg("Configuration loaded")

	log.Info().Msg("Connecting to data platform...")
	store, err := platform.Connect(ctx, cfg.PlatformDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to data platform: %w", err)
	}
	log.Info().Msg("Data platform connection established")

	app := &App{
		Config:   cfg,
		Platform: store,
		Identity: identity.NewClient(cfg.IdentityURL, cfg.IdentityServiceKey),
		Email: email.NewSender(
			cfg.EmailAPIURL,
			cfg.EmailAPIKey,
			cfg.EmailFrom,
			cfg.AppOrigin,
			time.Duration(cfg.EmailTimeoutMS)*time.Millisecond,
		),
		Profiles: profile.NewSyncer(store),
		Tenants: tenant.NewManager(
			store,
			time.Duration(cfg.StatsTTLSeconds)*time.Second,
			time.Duration(cfg.TenantIdleMinutes)*time.Minute,
		),
	}

	if cfg.BillingConfigured() {
		app.Billing = billing.NewOrchestrator(cfg.StripeSecretKey, store, cfg.AppOrigin, cfg.FreePlanID)
	} else {
		log.Warn().Msg("Billing is not configured; checkout and portal are disabled")
	}
	if !cfg.EmailConfigured() {
		log.Warn().Msg("Email delivery is not configured; invitation emails are disabled")
	}

	app.Router = NewRouter(app)
	app.server = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      app.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Msg("Application initialized successfully")
	return app, nil
}

// Start starts the HTTP server
func (a *App) Start() error {
	log.Info().Str("addr", a.server.Addr).Msg("Starting HTTP server")
	return a.server.ListenAndServe()
}

// Close gracefully shuts down the application. The HTTP server drains first
// so no in-flight request can reach the syncer or the pool after they close.
func (a *App) Close() {
	log.Info().Msg("Shutting down application")

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("HTTP server did not drain in time")
		}
		cancel()
	}

	if a.Profiles != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.Profiles.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Profile syncer did not drain in time")
		}
		cancel()
	}

	if a.Platform != nil {
		log.Info().Msg("Closing data platform connection")
		a.Platform.Close()
	}
}

// setupLogger configures the global logger
func setupLogger(level string) {
	// Set up pretty console output for development
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	// Set log level
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Debug().Str("level", level).Msg("Logger configured")
}
