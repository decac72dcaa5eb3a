package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Env:          "development",
		DatabaseURL:  "postgres://localhost/telecare",
		RTCAppID:     "app-id",
		RTCAppSecret: strings.Repeat("s", 32),
		RTCTokenTTL:  time.Hour,
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingAppID(t *testing.T) {
	cfg := validConfig()
	cfg.RTCAppID = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing RTC_APP_ID")
	}
}

func TestValidate_MissingSecret(t *testing.T) {
	cfg := validConfig()
	cfg.RTCAppSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing RTC_APP_SECRET")
	}
}

func TestValidate_ShortSecret(t *testing.T) {
	cfg := validConfig()
	cfg.RTCAppSecret = "too-short"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for short RTC_APP_SECRET")
	}
}

func TestValidate_TokenTTLBounds(t *testing.T) {
	cfg := validConfig()
	cfg.RTCTokenTTL = 30 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for ttl below 1m")
	}
	cfg.RTCTokenTTL = 25 * time.Hour
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for ttl above 24h")
	}
}

func TestValidate_ProductionRequiresIssuer(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"
	cfg.RecordingBucket = "recordings"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing AUTH_ISSUER in production")
	}
	cfg.AuthIssuer = "https://auth.example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ProductionRequiresBucket(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"
	cfg.AuthIssuer = "https://auth.example.com"
	cfg.RecordingBucket = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing RECORDING_BUCKET in production")
	}
}
