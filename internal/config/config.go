package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL   string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience  string   `mapstructure:"AUTH_AUDIENCE"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	// Real-time media provider (control plane + token signing).
	RTCAppID         string        `mapstructure:"RTC_APP_ID"`
	RTCAppSecret     string        `mapstructure:"RTC_APP_SECRET"`
	RTCAPIURL        string        `mapstructure:"RTC_API_URL"`
	RTCTokenTTL      time.Duration `mapstructure:"RTC_TOKEN_TTL"`
	RecordingBucket  string        `mapstructure:"RECORDING_BUCKET"`
	GuestLinkBaseURL string        `mapstructure:"GUEST_LINK_BASE_URL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RTC_TOKEN_TTL", time.Hour)
	v.SetDefault("GUEST_LINK_BASE_URL", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RTC_APP_ID")
	v.BindEnv("RTC_APP_SECRET")
	v.BindEnv("RTC_API_URL")
	v.BindEnv("RTC_TOKEN_TTL")
	v.BindEnv("RECORDING_BUCKET")
	v.BindEnv("GUEST_LINK_BASE_URL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests get admin access.")
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

// Validate checks that the configuration is safe to run. The RTC signing
// secret is a startup requirement: the credential issuer cannot mint tokens
// without it, so a missing or short secret refuses to start rather than
// failing per-request.
func (c *Config) Validate() error {
	if c.RTCAppID == "" {
		return fmt.Errorf("RTC_APP_ID is required")
	}
	if c.RTCAppSecret == "" {
		return fmt.Errorf("RTC_APP_SECRET is required")
	}
	if len(c.RTCAppSecret) < 32 {
		return fmt.Errorf("RTC_APP_SECRET must be at least 32 bytes, got %d", len(c.RTCAppSecret))
	}
	if c.RTCTokenTTL < time.Minute || c.RTCTokenTTL > 24*time.Hour {
		return fmt.Errorf("RTC_TOKEN_TTL must be between 1m and 24h, got %s", c.RTCTokenTTL)
	}
	if !c.IsDev() && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER must be set when ENV is not development. " +
			"Refusing to start without authentication configuration")
	}
	if c.IsProduction() && c.RecordingBucket == "" {
		return fmt.Errorf("RECORDING_BUCKET is required in production")
	}
	return nil
}
