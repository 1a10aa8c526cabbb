package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is everything the API process reads from its environment.
// Nothing outside this package looks at environment variables.
type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
	Media MediaConfig
	Jobs  JobsConfig
}

type AppConfig struct {
	Env  string
	Port int
	// RateLimitPerMinute caps authenticated requests per user across instances.
	RateLimitPerMinute int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	// SSLMode: disable, require, verify-ca or verify-full.
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// MediaConfig points at the LiveKit deployment used for call media.
type MediaConfig struct {
	URL       string
	APIKey    string
	APISecret string
	// AppID is handed to devices as part of the call media config.
	AppID string

	TokenTTL     time.Duration
	EmptyTimeout time.Duration
	// ProvisionRooms creates the room up front instead of relying on auto-create.
	ProvisionRooms bool
}

// JobsConfig controls background maintenance on the API process.
type JobsConfig struct {
	InvoicePurgeSchedule string
	InvoiceRetention     time.Duration
}

// Load reads the process environment.
func Load() (Config, error) { return LoadFrom(os.LookupEnv) }

// LoadFrom reads configuration through lookup and validates it. Every parse
// and validation problem is reported in the one returned error.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	e := &env{lookup: lookup}
	c := Config{
		App: AppConfig{
			Env:                e.str("APP_ENV"),
			Port:               e.integer("APP_PORT", true),
			RateLimitPerMinute: e.integer("RATE_LIMIT_PER_MINUTE", false),
		},
		DB: DBConfig{
			Host:     e.str("DB_HOST"),
			Port:     e.integer("DB_PORT", true),
			User:     e.str("DB_USER"),
			Password: e.secret("DB_PASSWORD"),
			Name:     e.str("DB_NAME"),
			SSLMode:  e.str("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Host: e.str("REDIS_HOST"),
			Port: e.integer("REDIS_PORT", true),
		},
		Auth: AuthConfig{
			JWTSecret:       e.secret("JWT_SECRET"),
			JWTIssuer:       e.str("JWT_ISSUER"),
			JWTAudience:     e.str("JWT_AUDIENCE"),
			AccessTokenTTL:  e.duration("JWT_ACCESS_TTL"),
			RefreshTokenTTL: e.duration("JWT_REFRESH_TTL"),
		},
		Media: MediaConfig{
			URL:            e.str("LIVEKIT_URL"),
			APIKey:         e.str("LIVEKIT_API_KEY"),
			APISecret:      e.secret("LIVEKIT_API_SECRET"),
			AppID:          e.str("LIVEKIT_APP_ID"),
			TokenTTL:       e.duration("MEDIA_TOKEN_TTL"),
			EmptyTimeout:   e.duration("MEDIA_ROOM_EMPTY_TIMEOUT"),
			ProvisionRooms: e.boolean("MEDIA_PROVISION_ROOMS"),
		},
		Jobs: JobsConfig{
			InvoicePurgeSchedule: e.str("INVOICE_PURGE_SCHEDULE"),
			InvoiceRetention:     e.duration("INVOICE_RETENTION"),
		},
	}
	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required settings and fills defaults for optional ones.
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.validateApp()...)
	errs = append(errs, c.validateStores()...)
	errs = append(errs, c.validateAuth()...)
	errs = append(errs, c.validateMedia()...)

	if c.Jobs.InvoicePurgeSchedule == "" {
		c.Jobs.InvoicePurgeSchedule = "@every 60m"
	}
	if c.Jobs.InvoiceRetention <= 0 {
		c.Jobs.InvoiceRetention = 24 * time.Hour
	}
	return errors.Join(errs...)
}

func (c *Config) validateApp() []error {
	var errs []error
	switch {
	case c.App.Env == "":
		errs = append(errs, errors.New("APP_ENV is required"))
	case !isValidEnv(c.App.Env):
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if !validPort(c.App.Port) {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.RateLimitPerMinute <= 0 {
		c.App.RateLimitPerMinute = 120
	}
	return errs
}

func (c *Config) validateStores() []error {
	var errs []error
	required := map[string]string{"DB_HOST": c.DB.Host, "DB_USER": c.DB.User, "DB_NAME": c.DB.Name, "REDIS_HOST": c.Redis.Host}
	for _, key := range []string{"DB_HOST", "DB_USER", "DB_NAME", "REDIS_HOST"} {
		if required[key] == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	if !validPort(c.DB.Port) {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if !validPort(c.Redis.Port) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	switch {
	case c.DB.SSLMode == "" && c.IsProduction():
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	case c.DB.SSLMode == "":
		c.DB.SSLMode = "disable"
	case !isValidSSLMode(c.DB.SSLMode):
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c *Config) validateAuth() []error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() && (c.Auth.JWTIssuer == "" || c.Auth.JWTAudience == "") {
		errs = append(errs, errors.New("JWT_ISSUER and JWT_AUDIENCE are required in production"))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	return errs
}

func (c *Config) validateMedia() []error {
	var errs []error
	if err := validURL("LIVEKIT_URL", c.Media.URL, "ws", "wss", "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.Media.APIKey == "" || c.Media.APISecret == "" {
		errs = append(errs, errors.New("LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required"))
	}
	if c.Media.TokenTTL <= 0 {
		c.Media.TokenTTL = 2 * time.Hour
	}
	if c.Media.EmptyTimeout <= 0 {
		c.Media.EmptyTimeout = 5 * time.Minute
	}
	return errs
}

func (c Config) IsProduction() bool { return c.App.Env == "production" }

func (c Config) HTTPAddr() string { return ":" + strconv.Itoa(c.App.Port) }

// PostgresDSN is a postgres:// URL for the pgx driver. It carries the password; never log it.
func (c Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     net.JoinHostPort(c.DB.Host, strconv.Itoa(c.DB.Port)),
		Path:     "/" + c.DB.Name,
		RawQuery: url.Values{"sslmode": {c.DB.SSLMode}}.Encode(),
	}
	return u.String()
}

func (c Config) RedisAddr() string {
	return net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port))
}

// env reads variables and remembers every parse failure.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) secret(key string) string {
	v, _ := e.lookup(key)
	return v
}

func (e *env) str(key string) string { return strings.TrimSpace(e.secret(key)) }

func (e *env) integer(key string, required bool) int {
	v := e.str(key)
	if v == "" {
		if required {
			e.errs = append(e.errs, fmt.Errorf("%s is required", key))
		}
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n
}

// duration returns 0 when unset so Validate can apply the default.
func (e *env) duration(key string) time.Duration {
	v := e.str(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be a duration like 30s or 15m, got %q", key, v))
	}
	return d
}

func (e *env) boolean(key string) bool {
	v := e.str(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be true or false, got %q", key, v))
	}
	return b
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	}
	return false
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	}
	return false
}
