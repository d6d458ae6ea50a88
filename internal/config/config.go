package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment names recognized by the application
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// defaultSessionSecret is the placeholder shipped in .env.example; running
// production with it is a fatal misconfiguration.
const defaultSessionSecret = "change-me"

// minSessionSecretLength is the minimum secret length accepted in production
const minSessionSecretLength = 32

// Config holds all application configuration
type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Session  SessionConfig
	Security SecurityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the optional Redis connection used by the distributed
// throttle store. An empty Addr disables it and keeps throttling in-process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SessionConfig holds session token and cookie configuration
type SessionConfig struct {
	Secret        string
	CookieName    string
	TokenExpiry   time.Duration
	MagicTokenTTL time.Duration
	Issuer        string
}

// SecurityConfig holds CSRF and automation credential configuration
type SecurityConfig struct {
	// TrustedOrigins is the raw comma/semicolon separated origin list.
	TrustedOrigins string
	// APIKey is the pre-shared x-api-key value for automation endpoints.
	// Empty disables the API-key fallback entirely.
	APIKey string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Env: getEnv("APP_ENV", EnvDevelopment),
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "komikvault"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Session: SessionConfig{
			Secret:        getEnv("SESSION_SECRET", defaultSessionSecret),
			CookieName:    getEnv("SESSION_COOKIE_NAME", "kv_session"),
			TokenExpiry:   getDurationEnv("SESSION_EXPIRY", 30*24*time.Hour),
			MagicTokenTTL: getDurationEnv("MAGIC_TOKEN_TTL", 15*time.Minute),
			Issuer:        getEnv("SESSION_ISSUER", "komikvault"),
		},
		Security: SecurityConfig{
			TrustedOrigins: getEnv("TRUSTED_ORIGINS", ""),
			APIKey:         getEnv("API_KEY", ""),
		},
	}
}

// IsProduction reports whether the app runs in the production environment
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, EnvProduction)
}

// Validate enforces the fail-fast startup invariants. In production a
// missing, default, or short session secret aborts startup rather than
// letting the process run with a guessable signing key.
func (c *Config) Validate() error {
	var errs []error

	if c.IsProduction() {
		switch {
		case c.Session.Secret == "":
			errs = append(errs, errors.New("SESSION_SECRET is required in production"))
		case c.Session.Secret == defaultSessionSecret:
			errs = append(errs, errors.New("SESSION_SECRET must not be the default placeholder in production"))
		case len(c.Session.Secret) < minSessionSecretLength:
			errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d characters in production", minSessionSecretLength))
		}
	}

	if c.Session.TokenExpiry <= 0 {
		errs = append(errs, errors.New("SESSION_EXPIRY must be positive"))
	}
	if c.Session.MagicTokenTTL <= 0 {
		errs = append(errs, errors.New("MAGIC_TOKEN_TTL must be positive"))
	}

	return errors.Join(errs...)
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// ParsedTrustedOrigins splits the configured origin list on commas and
// semicolons, trimming whitespace and trailing slashes.
func (s *SecurityConfig) ParsedTrustedOrigins() []string {
	fields := strings.FieldsFunc(s.TrustedOrigins, func(r rune) bool {
		return r == ',' || r == ';'
	})
	var origins []string
	for _, f := range fields {
		f = strings.TrimSuffix(strings.TrimSpace(f), "/")
		if f != "" {
			origins = append(origins, f)
		}
	}
	return origins
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getIntEnv returns an int from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
