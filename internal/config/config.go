package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	AuthIssuer       string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL      string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience     string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey   string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	AIServiceURL     string        `mapstructure:"AI_SERVICE_URL"`
	AIServiceTimeout time.Duration `mapstructure:"AI_SERVICE_TIMEOUT"`
	UrgentAfterDays  int           `mapstructure:"URGENT_AFTER_DAYS"`
	InFlightTTL      time.Duration `mapstructure:"IN_FLIGHT_TTL"`
	AttachmentDir    string        `mapstructure:"ATTACHMENT_DIR"`
	SMTPHost         string        `mapstructure:"SMTP_HOST"`
	SMTPPort         int           `mapstructure:"SMTP_PORT"`
	SMTPUser         string        `mapstructure:"SMTP_USER"`
	SMTPPass         string        `mapstructure:"SMTP_PASS"`
	SMTPFrom         string        `mapstructure:"SMTP_FROM"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AI_SERVICE_URL", "AI_SERVICE_TIMEOUT", "URGENT_AFTER_DAYS", "IN_FLIGHT_TTL",
	"ATTACHMENT_DIR", "SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "SMTP_FROM",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("AI_SERVICE_TIMEOUT", "60s")
	v.SetDefault("URGENT_AFTER_DAYS", 5)
	v.SetDefault("IN_FLIGHT_TTL", "30s")
	v.SetDefault("ATTACHMENT_DIR", "./data/attachments")
	v.SetDefault("SMTP_PORT", 587)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: requests without a bearer token are accepted as the dev user.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UrgentAfter returns the submission age past which an open consult is flagged urgent.
func (c *Config) UrgentAfter() time.Duration {
	return time.Duration(c.UrgentAfterDays) * 24 * time.Hour
}

// Validate checks that the configuration is safe to run. Outside development
// a token verification source (JWKS, issuer discovery or signing key) must exist.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is for development only and must not be set in production")
	}
	if c.UrgentAfterDays <= 0 {
		return fmt.Errorf("URGENT_AFTER_DAYS must be positive, got %d", c.UrgentAfterDays)
	}
	if c.AIServiceTimeout <= 0 {
		return fmt.Errorf("AI_SERVICE_TIMEOUT must be positive")
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	return nil
}
