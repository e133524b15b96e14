// Package config provides the configuration schema and loader for the voice
// gateway.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Database DatabaseConfig `yaml:"database"`
	Gateway  GatewayConfig  `yaml:"gateway"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AuthConfig holds the secrets shared with the platform's auth service.
type AuthConfig struct {
	// CookieName is the session cookie name. Default: "session".
	CookieName string `yaml:"cookie_name"`

	// CookieSecret signs the cookie envelope.
	CookieSecret string `yaml:"cookie_secret"`

	// JWTSecret signs the JWT inside the cookie.
	JWTSecret string `yaml:"jwt_secret"`
}

// UpstreamConfig selects and configures the generative speech backend.
type UpstreamConfig struct {
	// Name selects the backend: "gemini-live" or "openai-realtime".
	Name string `yaml:"name"`

	// APIKey authenticates against the backend.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model (e.g., "gemini-2.0-flash-exp").
	Model string `yaml:"model"`

	// BaseURL overrides the backend's default endpoint. Leave empty to use
	// the built-in default.
	BaseURL string `yaml:"base_url"`

	// Voice is the voice preset passed through to the backend.
	Voice string `yaml:"voice"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	// PostgresDSN is the connection string for the platform database.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// GatewayConfig tunes per-connection behaviour.
type GatewayConfig struct {
	// HeartbeatInterval is the WebSocket ping cadence. Default: 30s.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// ShutdownTimeout bounds the graceful drain on shutdown. Default: 30s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}
