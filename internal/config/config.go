package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Env      string
	HTTPAddr string
	BaseURL  string
	// AppOrigin is the origin of the SPA allowed by CORS. Defaults to BaseURL.
	AppOrigin string

	PlatformDSN string

	IdentityURL        string
	IdentityServiceKey string
	JWTSecret          string
	SessionDays        int

	LogLevel string

	RateLimitRPM int

	StripeSecretKey string
	FreePlanID      string

	EmailAPIURL    string
	EmailAPIKey    string
	EmailFrom      string
	EmailTimeoutMS int

	TenantIdleMinutes int
	StatsTTLSeconds   int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Env = strings.TrimSpace(os.Getenv("SM_ENV"))
	if cfg.Env == "" {
		return nil, fmt.Errorf("SM_ENV is required")
	}
	if cfg.Env != "dev" && cfg.Env != "prod" {
		return nil, fmt.Errorf("SM_ENV must be one of: dev, prod (got: %s)", cfg.Env)
	}

	cfg.HTTPAddr = getEnvOrDefault("SM_HTTP_ADDR", ":8080")

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("SM_BASE_URL")), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("SM_BASE_URL is required")
	}
	cfg.AppOrigin = strings.TrimRight(getEnvOrDefault("SM_APP_ORIGIN", cfg.BaseURL), "/")

	cfg.PlatformDSN = strings.TrimSpace(os.Getenv("SM_PLATFORM_DSN"))
	if cfg.PlatformDSN == "" {
		return nil, fmt.Errorf("SM_PLATFORM_DSN is required")
	}

	cfg.IdentityURL = strings.TrimRight(strings.TrimSpace(os.Getenv("SM_IDENTITY_URL")), "/")
	if cfg.IdentityURL == "" {
		return nil, fmt.Errorf("SM_IDENTITY_URL is required")
	}

	cfg.IdentityServiceKey = os.Getenv("SM_IDENTITY_SERVICE_KEY")
	if cfg.IdentityServiceKey == "" {
		return nil, fmt.Errorf("SM_IDENTITY_SERVICE_KEY is required")
	}

	cfg.JWTSecret = os.Getenv("SM_JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("SM_JWT_SECRET is required")
	}
	if cfg.Env == "prod" && len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("SM_JWT_SECRET must be at least 32 characters (currently %d)", len(cfg.JWTSecret))
	}

	cfg.LogLevel = getEnvOrDefault("SM_LOG_LEVEL", "info")
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("SM_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", cfg.LogLevel)
	}

	var err error
	cfg.SessionDays, err = getEnvIntOrDefault("SM_SESSION_DAYS", 7)
	if err != nil {
		return nil, err
	}

	cfg.RateLimitRPM, err = getEnvIntOrDefault("SM_RATE_LIMIT_RPM", 120)
	if err != nil {
		return nil, err
	}

	// Billing and email are optional in dev; the endpoints report
	// "not configured" when the keys are blank.
	cfg.StripeSecretKey = strings.TrimSpace(os.Getenv("SM_STRIPE_SECRET_KEY"))
	cfg.FreePlanID = getEnvOrDefault("SM_FREE_PLAN_ID", "free")

	cfg.EmailAPIURL = strings.TrimRight(strings.TrimSpace(os.Getenv("SM_EMAIL_API_URL")), "/")
	cfg.EmailAPIKey = os.Getenv("SM_EMAIL_API_KEY")
	cfg.EmailFrom = getEnvOrDefault("SM_EMAIL_FROM", "no-reply@shelfmark.app")

	cfg.EmailTimeoutMS, err = getEnvIntOrDefault("SM_EMAIL_TIMEOUT_MS", 5000)
	if err != nil {
		return nil, err
	}
	if cfg.EmailTimeoutMS <= 0 || cfg.EmailTimeoutMS > 30000 {
		return nil, fmt.Errorf("SM_EMAIL_TIMEOUT_MS must be between 1 and 30000 (got: %d)", cfg.EmailTimeoutMS)
	}

	cfg.TenantIdleMinutes, err = getEnvIntOrDefault("SM_TENANT_IDLE_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	if cfg.TenantIdleMinutes < 1 {
		return nil, fmt.Errorf("SM_TENANT_IDLE_MINUTES must be at least 1 (got: %d)", cfg.TenantIdleMinutes)
	}

	cfg.StatsTTLSeconds, err = getEnvIntOrDefault("SM_STATS_TTL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	if cfg.StatsTTLSeconds < 1 {
		return nil, fmt.Errorf("SM_STATS_TTL_SECONDS must be at least 1 (got: %d)", cfg.StatsTTLSeconds)
	}

	if cfg.Env == "prod" && cfg.StripeSecretKey == "" {
		return nil, fmt.Errorf("SM_STRIPE_SECRET_KEY is required in prod")
	}

	return cfg, nil
}

// IsDev returns true if running in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// BillingConfigured reports whether the payment processor key is present.
func (c *Config) BillingConfigured() bool {
	return c.StripeSecretKey != ""
}

// EmailConfigured reports whether the transactional email provider is set up.
func (c *Config) EmailConfigured() bool {
	return c.EmailAPIURL != "" && c.EmailAPIKey != ""
}

// RedactedValues returns a map of config values with secrets redacted.
func (c *Config) RedactedValues() map[string]string {
	return map[string]string{
		"SM_ENV":                  c.Env,
		"SM_HTTP_ADDR":            c.HTTPAddr,
		"SM_BASE_URL":             c.BaseURL,
		"SM_APP_ORIGIN":           c.AppOrigin,
		"SM_PLATFORM_DSN":         redactDSN(c.PlatformDSN),
		"SM_IDENTITY_URL":         c.IdentityURL,
		"SM_IDENTITY_SERVICE_KEY": "[REDACTED]",
		"SM_JWT_SECRET":           "[REDACTED]",
		"SM_SESSION_DAYS":         fmt.Sprintf("%d", c.SessionDays),
		"SM_LOG_LEVEL":            c.LogLevel,
		"SM_RATE_LIMIT_RPM":       fmt.Sprintf("%d", c.RateLimitRPM),
		"SM_STRIPE_SECRET_KEY":    redactIfSet(c.StripeSecretKey),
		"SM_FREE_PLAN_ID":         c.FreePlanID,
		"SM_EMAIL_API_URL":        c.EmailAPIURL,
		"SM_EMAIL_API_KEY":        redactIfSet(c.EmailAPIKey),
		"SM_EMAIL_FROM":           c.EmailFrom,
		"SM_EMAIL_TIMEOUT_MS":     fmt.Sprintf("%d", c.EmailTimeoutMS),
		"SM_TENANT_IDLE_MINUTES":  fmt.Sprintf("%d", c.TenantIdleMinutes),
		"SM_STATS_TTL_SECONDS":    fmt.Sprintf("%d", c.StatsTTLSeconds),
	}
}

func redactIfSet(v string) string {
	if v == "" {
		return ""
	}
	return "[REDACTED]"
}

func redactDSN(dsn string) string {
	if start := strings.Index(dsn, "://"); start != -1 {
		if end := strings.Index(dsn[start+3:], "@"); end != -1 {
			return dsn[:start+3] + "[REDACTED]" + dsn[start+3+end:]
		}
	}
	return dsn
}

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got: %q)", key, value)
	}
	return parsed, nil
}
