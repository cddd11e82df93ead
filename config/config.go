package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the gateway configuration.
const (
	DefaultHost              = "localhost"
	DefaultPort              = 8080
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultMembershipTimeout = 5 * time.Second
	DefaultSendBuffer        = 256
	DefaultMaxMessageBytes   = 64 * 1024
	DefaultWriteWait         = 10 * time.Second
	DefaultPongWait          = 60 * time.Second
	DefaultJWTSecretEnv      = "JWT_SECRET"
	DefaultAPIKeyEnv         = "GROUPPLANNER_ADMIN_KEY"
	DefaultAuditStream       = "groupplanner:audit"
)

// Config is the whole gateway configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Admin       AdminConfig       `yaml:"admin"`
	Realtime    RealtimeConfig    `yaml:"realtime"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Audit       AuditConfig       `yaml:"audit"`
	Store       StoreConfig       `yaml:"store"`
	Redis       RedisConfig       `yaml:"redis"`
	Tunnel      TunnelConfig      `yaml:"tunnel"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins is used for CORS and the websocket origin check.
	// Empty allows every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig controls handshake token verification.
type AuthConfig struct {
	// SecretEnv names the environment variable holding the HS256 signing secret.
	SecretEnv string `yaml:"jwt_secret_env"`

	// Issuer, when set, must match the token's iss claim.
	Issuer string `yaml:"issuer"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// Secret returns the signing secret resolved from the environment.
func (a AuthConfig) Secret() string {
	if a.SecretEnv == "" {
		return ""
	}
	return os.Getenv(a.SecretEnv)
}

// AdminConfig protects the admin API and the MCP endpoint.
type AdminConfig struct {
	// KeyEnv names the environment variable holding the admin API key. When
	// the variable is empty the admin API is open.
	KeyEnv string `yaml:"api_key_env"`

	// Header carries the key. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the admin API key resolved from the environment.
func (a AdminConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a AdminConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// RealtimeConfig tunes connections.
type RealtimeConfig struct {
	MembershipTimeout time.Duration `yaml:"membership_timeout"`
	SendBuffer        int           `yaml:"send_buffer"`
	MaxMessageBytes   int64         `yaml:"max_message_bytes"`
	WriteWait         time.Duration `yaml:"write_wait"`
	PongWait          time.Duration `yaml:"pong_wait"`
}

// PermissionsConfig overrides the update types plain members may broadcast.
// Empty means the built-in list. Reloaded live.
type PermissionsConfig struct {
	BaseAllowed []string `yaml:"base_allowed"`
}

// AuditConfig selects audit sinks.
type AuditConfig struct {
	// Sink is one of: log | redis | both.
	Sink   string `yaml:"sink"`
	Stream string `yaml:"redis_stream"`
}

// StoreConfig selects the user and membership backend.
type StoreConfig struct {
	// Driver is one of: memory | postgres.
	Driver string `yaml:"driver"`

	// DatabaseURLEnv names the environment variable holding the postgres URL.
	DatabaseURLEnv string `yaml:"database_url_env"`

	// SeedFile optionally loads users and memberships into the memory driver.
	// Relative paths are resolved against the config file's directory.
	SeedFile string `yaml:"seed_file"`
}

// DatabaseURL returns the postgres URL resolved from the environment.
func (s StoreConfig) DatabaseURL() string {
	if s.DatabaseURLEnv == "" {
		return ""
	}
	return os.Getenv(s.DatabaseURLEnv)
}

// RedisConfig locates redis for the audit stream.
type RedisConfig struct {
	URLEnv string `yaml:"url_env"`
}

// URL returns the redis URL resolved from the environment.
func (r RedisConfig) URL() string {
	if r.URLEnv == "" {
		return ""
	}
	return os.Getenv(r.URLEnv)
}

// TunnelConfig enables an ngrok listener alongside the local one.
type TunnelConfig struct {
	Enabled      bool   `yaml:"enabled"`
	AuthtokenEnv string `yaml:"authtoken_env"`
	Domain       string `yaml:"domain"`
}

// Authtoken returns the ngrok token resolved from the environment.
func (t TunnelConfig) Authtoken() string {
	if t.AuthtokenEnv == "" {
		return ""
	}
	return os.Getenv(t.AuthtokenEnv)
}

// LogConfig selects log format and level.
type LogConfig struct {
	// Env "prod" switches to JSON output.
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// Load reads and parses the config file at path. An empty path yields the
// defaults. Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
		if f := cfg.Store.SeedFile; f != "" && !filepath.IsAbs(f) {
			cfg.Store.SeedFile = filepath.Join(filepath.Dir(path), f)
		}
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Auth: AuthConfig{
			SecretEnv:        DefaultJWTSecretEnv,
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
		Admin: AdminConfig{
			KeyEnv: DefaultAPIKeyEnv,
		},
		Realtime: RealtimeConfig{
			MembershipTimeout: DefaultMembershipTimeout,
			SendBuffer:        DefaultSendBuffer,
			MaxMessageBytes:   DefaultMaxMessageBytes,
			WriteWait:         DefaultWriteWait,
			PongWait:          DefaultPongWait,
		},
		Audit: AuditConfig{
			Sink:   "log",
			Stream: DefaultAuditStream,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Log: LogConfig{
			Env:   "dev",
			Level: "info",
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range [0, 65535]", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}
	if cfg.Auth.HandshakeTimeout <= 0 {
		return fmt.Errorf("auth.handshake_timeout must be positive")
	}
	if cfg.Realtime.MembershipTimeout <= 0 {
		return fmt.Errorf("realtime.membership_timeout must be positive")
	}
	if cfg.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	if cfg.Realtime.MaxMessageBytes <= 0 {
		return fmt.Errorf("realtime.max_message_bytes must be positive")
	}
	if cfg.Realtime.PongWait <= cfg.Realtime.WriteWait {
		return fmt.Errorf("realtime.pong_wait must exceed realtime.write_wait")
	}
	switch cfg.Audit.Sink {
	case "log", "redis", "both":
	default:
		return fmt.Errorf("audit.sink %q unknown: want log|redis|both", cfg.Audit.Sink)
	}
	if cfg.Audit.Sink != "log" && cfg.Redis.URLEnv == "" {
		return fmt.Errorf("audit.sink %q requires redis.url_env", cfg.Audit.Sink)
	}
	switch cfg.Store.Driver {
	case "memory":
	case "postgres":
		if cfg.Store.DatabaseURLEnv == "" {
			return fmt.Errorf("store.driver postgres requires store.database_url_env")
		}
	default:
		return fmt.Errorf("store.driver %q unknown: want memory|postgres", cfg.Store.Driver)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	return nil
}
