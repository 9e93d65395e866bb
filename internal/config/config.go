// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN. When empty the server runs on in-memory repositories (dev only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// JWTAccessSecret signs access tokens. Inline value or "file:<path>".
	JWTAccessSecret string `mapstructure:"JWT_ACCESS_SECRET"`
	// JWTRefreshSecret signs refresh tokens. Must differ from JWTAccessSecret.
	JWTRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	JWTIssuer        string `mapstructure:"JWT_ISSUER"`
	JWTAudience      string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// MaxActiveSessions caps concurrent active sessions per identity (default 5).
	MaxActiveSessions int `mapstructure:"MAX_ACTIVE_SESSIONS"`

	// BlacklistBackend selects the revocation store: "postgres" (default) or "redis".
	BlacklistBackend string `mapstructure:"BLACKLIST_BACKEND"`
	RedisAddr        string `mapstructure:"REDIS_ADDR"`
	RedisPassword    string `mapstructure:"REDIS_PASSWORD"`
	RedisDB          int    `mapstructure:"REDIS_DB"`

	// SMTP settings for the EMAIL verification channel. Empty SMTPHost disables email delivery.
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
	// SMTPTLS is "starttls" (default), "ssl" or "none".
	SMTPTLS string `mapstructure:"SMTP_TLS"`

	// SMSLocalAPIKey is the API key for SMS Local (PHONE verification channel).
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// SMSDefaultRegion is the ISO region used to parse phone numbers without a country code (e.g. "US").
	SMSDefaultRegion string `mapstructure:"SMS_DEFAULT_REGION"`

	// DevCodeCapture when true keeps the last verification code per target in memory and exposes it at
	// GET /dev/verification-code. Must not be true when Env is production.
	DevCodeCapture bool `mapstructure:"DEV_CODE_CAPTURE"`

	// SweepInterval is how often the worker purges expired revocations and challenges (e.g. "1m").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`

	// OTLPEndpoint enables OpenTelemetry export when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env     string `mapstructure:"APP_ENV"`
	Version string `mapstructure:"APP_VERSION"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ACCESS_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_ISSUER", "ams-auth")
	v.SetDefault("JWT_AUDIENCE", "ams-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("MAX_ACTIVE_SESSIONS", 5)
	v.SetDefault("BLACKLIST_BACKEND", "postgres")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "no-reply@localhost")
	v.SetDefault("SMTP_TLS", "starttls")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://app.smslocal.in/api/smsapi")
	v.SetDefault("SMS_DEFAULT_REGION", "US")
	v.SetDefault("DEV_CODE_CAPTURE", false)
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("APP_VERSION", "dev")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.DevCodeCapture && cfg.Env == "production" {
		return nil, errors.New("config: DEV_CODE_CAPTURE must not be true when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.MaxActiveSessions <= 0 {
		return nil, errors.New("config: MAX_ACTIVE_SESSIONS must be positive")
	}

	cfg.BlacklistBackend = strings.ToLower(strings.TrimSpace(cfg.BlacklistBackend))
	switch cfg.BlacklistBackend {
	case "postgres":
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, errors.New("config: REDIS_ADDR must be set when BLACKLIST_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("config: BLACKLIST_BACKEND must be postgres or redis, got %q", cfg.BlacklistBackend)
	}

	switch strings.ToLower(cfg.SMTPTLS) {
	case "starttls", "ssl", "none":
	default:
		return nil, fmt.Errorf("config: SMTP_TLS must be starttls, ssl or none, got %q", cfg.SMTPTLS)
	}

	return &cfg, nil
}

// Secrets resolves and validates the access and refresh signing secrets.
// Both are required and must differ so a leaked refresh secret cannot mint access tokens.
func (c *Config) Secrets() (access, refresh []byte, err error) {
	access, err = ResolveSecret(c.JWTAccessSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("config: JWT_ACCESS_SECRET: %w", err)
	}
	refresh, err = ResolveSecret(c.JWTRefreshSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("config: JWT_REFRESH_SECRET: %w", err)
	}
	if string(access) == string(refresh) {
		return nil, nil, errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	return access, refresh, nil
}

// ResolveSecret returns the secret bytes from an inline value or a "file:<path>" reference.
// Secrets shorter than 32 bytes are rejected.
func ResolveSecret(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("secret is empty")
	}
	if path, ok := strings.CutPrefix(value, "file:"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read secret file: %w", err)
		}
		value = strings.TrimSpace(string(b))
	}
	if len(value) < 32 {
		return nil, errors.New("secret must be at least 32 bytes")
	}
	return []byte(value), nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// SweepEvery parses SweepInterval as a time.Duration. Returns 1m if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	return parseDuration(c.SweepInterval, time.Minute)
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// parseDuration accepts Go durations plus a trailing "d" for days (e.g. "7d").
func parseDuration(s string, fallback time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		d, err := time.ParseDuration(days + "h")
		if err != nil || d <= 0 {
			return fallback
		}
		return d * 24
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
