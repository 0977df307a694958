package config // package config loads application configuration from environment variables

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env            string // application environment (dev, test, prod)
	Port           string // HTTP port to listen on
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	JWTSecret      string // secret used to sign access tokens
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int    // bcrypt cost for password hashing

	ClientURL    string // front-end origin, used for reset links and CORS
	CookieSecure bool   // set Secure on auth cookies
	CookieDomain string // optional cookie Domain attribute

	LockoutMaxAttempts int           // consecutive failures before the account locks
	LockoutDuration    time.Duration // how long a lock lasts
	ResetTokenTTL      time.Duration // lifetime of a password reset token

	TokenRetention time.Duration // tokens and sessions are deleted this long after creation
	AuditRetention time.Duration // audit entries are deleted this long after creation
	SweepInterval  time.Duration // how often the retention sweeper runs

	LogLevel  string // zerolog level name
	RabbitURL string // AMQP broker for security events; empty disables publishing
}

// AccessTTL is AccessTTLMin as a duration.
func (c Config) AccessTTL() time.Duration { return time.Duration(c.AccessTTLMin) * time.Minute }

// RefreshTTL is RefreshTTLDays as a duration.
func (c Config) RefreshTTL() time.Duration { return time.Duration(c.RefreshTTLDays) * 24 * time.Hour }

// IsProduction reports whether the service runs in a production environment.
func (c Config) IsProduction() bool {
	switch strings.ToLower(c.Env) {
	case "prod", "production":
		return true
	}
	return false
}

// Load is Parse for process start-up: a configuration error is fatal.
func Load() Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}

// Parse reads configuration values from environment variables.  Missing
// required variables and malformed numbers are collected into one error.
func Parse() (Config, error) {
	var l loader
	cfg := Config{
		Env:            envStr("APP_ENV", "dev"),
		Port:           envStr("APP_PORT", "8080"),
		DBUser:         l.must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"), // empty allowed
		DBHost:         l.must("DB_HOST"),
		DBPort:         l.must("DB_PORT"),
		DBName:         l.must("DB_NAME"),
		JWTSecret:      l.must("JWT_SECRET"),
		AccessTTLMin:   l.intOr("ACCESS_TOKEN_TTL_MIN", 15),
		RefreshTTLDays: l.intOr("REFRESH_TOKEN_TTL_DAYS", 7),
		BcryptCost:     l.intOr("BCRYPT_COST", 10),

		ClientURL:    strings.TrimRight(envStr("CLIENT_URL", "http://localhost:3000"), "/"),
		CookieDomain: os.Getenv("COOKIE_DOMAIN"),

		LockoutMaxAttempts: l.intOr("LOCKOUT_MAX_ATTEMPTS", 5),
		LockoutDuration:    l.durOr("LOCKOUT_DURATION", 15*time.Minute),
		ResetTokenTTL:      l.durOr("RESET_TOKEN_TTL", 10*time.Minute),

		TokenRetention: l.durOr("TOKEN_RETENTION", 30*24*time.Hour),
		AuditRetention: l.durOr("AUDIT_RETENTION", 90*24*time.Hour),
		SweepInterval:  l.durOr("SWEEP_INTERVAL", time.Hour),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		RabbitURL: envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
	}
	cfg.CookieSecure = envBool("COOKIE_SECURE", cfg.IsProduction())

	if cfg.AccessTTLMin < 1 {
		l.invalid = append(l.invalid, "ACCESS_TOKEN_TTL_MIN")
	}
	if cfg.RefreshTTLDays < 1 {
		l.invalid = append(l.invalid, "REFRESH_TOKEN_TTL_DAYS")
	}
	if cfg.LockoutMaxAttempts < 1 {
		l.invalid = append(l.invalid, "LOCKOUT_MAX_ATTEMPTS")
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		l.invalid = append(l.invalid, "BCRYPT_COST")
	}
	return cfg, l.err()
}

type loader struct {
	missing []string
	invalid []string
}

// must retrieves the value of a required environment variable.
func (l *loader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		l.missing = append(l.missing, key)
	}
	return v
}

// intOr is like envInt but records malformed values instead of ignoring them.
func (l *loader) intOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.invalid = append(l.invalid, key)
		return def
	}
	return n
}

func (l *loader) durOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		l.invalid = append(l.invalid, key)
		return def
	}
	return d
}

func (l *loader) err() error {
	var parts []string
	if len(l.missing) > 0 {
		parts = append(parts, "missing required env vars: "+strings.Join(l.missing, ", "))
	}
	if len(l.invalid) > 0 {
		parts = append(parts, "invalid values for: "+strings.Join(l.invalid, ", "))
	}
	if len(parts) == 0 {
		return nil
	}
	return fmt.Errorf("config: %s", strings.Join(parts, "; "))
}
