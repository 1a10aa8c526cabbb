package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "marketcall"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Media: MediaConfig{URL: "wss://media.example.com", APIKey: "key", APISecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "issuer"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Media.TokenTTL != 2*time.Hour {
		t.Fatalf("expected default media token ttl, got %v", c.Media.TokenTTL)
	}
	if c.Jobs.InvoicePurgeSchedule != "@every 60m" {
		t.Fatalf("expected default purge schedule, got %q", c.Jobs.InvoicePurgeSchedule)
	}
}

func TestValidate_RequiresLiveKitCredentials(t *testing.T) {
	c := validConfig()
	c.Media.APISecret = ""
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "LIVEKIT_API_KEY") {
		t.Fatalf("expected livekit credential error, got %v", err)
	}
}

func TestDeviceValidate_Defaults(t *testing.T) {
	c := DeviceConfig{
		APIBaseURL:   "https://api.example.com",
		SignalingURL: "wss://api.example.com/v1/signaling",
		AccessToken:  "tok",
		UserID:       "buyer-1",
		Role:         "buyer",
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.RingTimeout != 30*time.Second {
		t.Fatalf("expected 30s ring timeout, got %v", c.RingTimeout)
	}
	if c.SignalingGrace != 15*time.Second {
		t.Fatalf("expected 15s grace, got %v", c.SignalingGrace)
	}
	if c.Env != "local" {
		t.Fatalf("expected local env default, got %q", c.Env)
	}
}

func TestDeviceValidate_CollectsErrors(t *testing.T) {
	c := DeviceConfig{
		APIBaseURL:   "ftp://nope",
		SignalingURL: "https://api.example.com",
		Role:         "seller",
	}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"API_BASE_URL", "SIGNALING_URL", "ACCESS_TOKEN", "DEVICE_USER_ID", "DEVICE_SHOP_ID"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadFrom_ParsesEnvironment(t *testing.T) {
	c, err := LoadFrom(lookupFrom(map[string]string{
		"APP_ENV":               "dev",
		"APP_PORT":              "8080",
		"DB_HOST":               "db",
		"DB_PORT":               "5432",
		"DB_USER":               "app",
		"DB_PASSWORD":           "p@ss word",
		"DB_NAME":               "marketcall",
		"REDIS_HOST":            "cache",
		"REDIS_PORT":            "6379",
		"JWT_SECRET":            "secret",
		"LIVEKIT_URL":           "wss://media.example.com",
		"LIVEKIT_API_KEY":       "key",
		"LIVEKIT_API_SECRET":    "secret",
		"MEDIA_PROVISION_ROOMS": "true",
		"INVOICE_RETENTION":     "48h",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.Media.ProvisionRooms || c.Jobs.InvoiceRetention != 48*time.Hour || c.App.RateLimitPerMinute != 120 {
		t.Fatalf("unexpected config %+v", c)
	}
	if got := c.PostgresDSN(); got != "postgres://app:p%40ss%20word@db:5432/marketcall?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
	if c.RedisAddr() != "cache:6379" || c.HTTPAddr() != ":8080" {
		t.Fatalf("unexpected addrs %q %q", c.RedisAddr(), c.HTTPAddr())
	}
}

func TestLoadFrom_ReportsEveryParseError(t *testing.T) {
	_, err := LoadFrom(lookupFrom(map[string]string{
		"APP_PORT":              "eighty",
		"JWT_ACCESS_TTL":        "soon",
		"MEDIA_PROVISION_ROOMS": "maybe",
	}))
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"APP_PORT", "DB_PORT", "JWT_ACCESS_TTL", "MEDIA_PROVISION_ROOMS"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}
