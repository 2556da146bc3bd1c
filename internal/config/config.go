// Package config provides centralized configuration management for the
// service. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on
// misconfiguration. Role credentials and the cipher key are loaded here
// once and passed explicitly into the components that need them; nothing
// reads the environment after startup.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Roles      RolesConfig
	Auth       AuthConfig
	Crypto     CryptoConfig
	Upload     UploadConfig
	Validation ValidationConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds the connection parameters shared by every role.
// The per-role logins live in RolesConfig.
type DatabaseConfig struct {
	// Name is the PostgreSQL database name (required)
	Name string `env:"POSTGRES_DB" required:"true"`

	// Host is the PostgreSQL host (default: localhost)
	Host string `env:"POSTGRES_HOST" default:"localhost"`

	// Port is the PostgreSQL port (default: 5432)
	Port int `env:"POSTGRES_PORT" default:"5432"`

	// SSLMode is the sslmode connection parameter (default: disable)
	SSLMode string `env:"POSTGRES_SSLMODE" default:"disable"`

	// MaxConns is the maximum number of connections per role pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`
}

// RolesConfig holds one database login per role. The database's own grants
// decide what each login can read; the service only routes to them.
type RolesConfig struct {
	AnalystUser     string `env:"ANALYST_DB_USER" required:"true"`
	AnalystPassword string `env:"ANALYST_DB_PASSWORD" required:"true"`
	ManagerUser     string `env:"MANAGER_DB_USER" required:"true"`
	ManagerPassword string `env:"MANAGER_DB_PASSWORD" required:"true"`
	AdminUser       string `env:"ADMIN_DB_USER" required:"true"`
	AdminPassword   string `env:"ADMIN_DB_PASSWORD" required:"true"`
}

// AuthConfig holds the basic-auth credentials for the access-control gate.
type AuthConfig struct {
	Username string `env:"AUTH_USERNAME" required:"true"`
	Password string `env:"AUTH_PASSWORD" required:"true"`
}

// CryptoConfig holds the field cipher key material. Exactly one source
// must be configured: a raw base64 key, or a passphrase plus salt for
// argon2id derivation.
type CryptoConfig struct {
	// Key is the base64-encoded 32-byte encryption key.
	Key string `env:"ENCRYPTION_KEY"`

	// Passphrase derives the key via argon2id when Key is unset.
	Passphrase string `env:"ENCRYPTION_PASSPHRASE"`

	// Salt is required alongside Passphrase.
	Salt string `env:"ENCRYPTION_SALT"`
}

// UploadConfig holds upload processing settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`
}

// ValidationConfig holds row validation settings.
type ValidationConfig struct {
	// StrictIP rejects dotted quads with octets above 255. Off by default
	// to match the historical digit-count check.
	StrictIP bool `env:"VALIDATION_STRICT_IP" default:"false"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
