// Package config provides centralized configuration management for the
// service. Settings load from environment variables with defaults and are
// validated on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Mail     MailConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response.
	// Zero by default: the import endpoint streams events for the whole job.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// MaxUploadSize is the maximum accepted upload body in bytes (default: 5MB)
	MaxUploadSize int64 `env:"SERVER_MAX_UPLOAD_SIZE" default:"5242880"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
}

// ImportConfig holds the account-provisioning pipeline settings.
type ImportConfig struct {
	// BaseURL is the public URL the credential-setup links point at (required)
	BaseURL string `env:"IMPORT_BASE_URL" required:"true"`

	// MaxBatchSize is the hard cap on rows per import job (default: 100)
	MaxBatchSize int `env:"IMPORT_MAX_BATCH_SIZE" default:"100"`

	// InterEmailDelay is the minimum delay between consecutive
	// provisioning emails (default: 600ms)
	InterEmailDelay time.Duration `env:"IMPORT_INTER_EMAIL_DELAY" default:"600ms"`

	// TokenTTL is the validity window of a provisioning token (default: 168h)
	TokenTTL time.Duration `env:"IMPORT_TOKEN_TTL" default:"168h"`
}

// MailConfig holds SMTP transport settings. Absence of credentials is not
// a startup error: the server runs, but every import job aborts at intake
// until the transport is configured.
type MailConfig struct {
	// Host is the SMTP server hostname
	Host string `env:"SMTP_HOST"`

	// Port is the SMTP server port (default: 587)
	Port int `env:"SMTP_PORT" default:"587"`

	// Username authenticates against the SMTP server
	Username string `env:"SMTP_USERNAME"`

	// Password authenticates against the SMTP server
	Password string `env:"SMTP_PASSWORD"`

	// From is the sender address on provisioning emails
	From string `env:"SMTP_FROM"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey gates all API routes behind X-API-Key (default: true)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"true"`

	// APIKeys is the comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
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
