// ABOUTME: Configuration loading and parsing for calories-gateway
// ABOUTME: Supports YAML or TOML files with .env loading, env var expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a value is not configured.
const (
	DefaultHTTPAddr          = "0.0.0.0:8787"
	DefaultBaseURL           = "https://calories.onlydating.me"
	DefaultDatabaseDriver    = "sqlite"
	DefaultDatabaseDSN       = "calories.db"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultAccessTokenTTL    = time.Hour
	DefaultAnalysisTimeout   = 10 * time.Second
)

// Approval modes for the OAuth authorize endpoint.
const (
	ApprovalAuto   = "auto"
	ApprovalStrict = "strict"
)

// Config represents the complete calories-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Analysis  AnalysisConfig  `yaml:"analysis" toml:"analysis"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener addresses and the public base URL
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr enables the gRPC health service when set
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	// BaseURL is the externally visible origin used in OAuth metadata
	BaseURL string `yaml:"base_url" toml:"base_url"`

	baseURLDefaulted bool
}

// BaseURLDefaulted reports whether BaseURL came from DefaultBaseURL rather
// than the config file, the environment or a later assignment.
func (s ServerConfig) BaseURLDefaulted() bool {
	return s.baseURLDefaulted && s.BaseURL == DefaultBaseURL
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel, implies HTTPS
}

// DatabaseConfig selects the SQL driver and connection string
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite, sqlite3, mysql
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// AuthConfig holds OAuth and bearer token settings
type AuthConfig struct {
	Approval      string `yaml:"approval" toml:"approval"`
	JWTSecret     string `yaml:"jwt_secret" toml:"jwt_secret"`
	RequireBearer bool   `yaml:"require_bearer" toml:"require_bearer"`

	AccessTokenTTL    time.Duration `yaml:"-" toml:"-"`
	AccessTokenTTLRaw string        `yaml:"access_token_ttl" toml:"access_token_ttl"`
}

// TransportConfig holds SSE transport timing
type TransportConfig struct {
	HeartbeatInterval    time.Duration `yaml:"-" toml:"-"`
	HeartbeatIntervalRaw string        `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
}

// AnalysisConfig points at the optional AI analysis service
type AnalysisConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// CORSConfig holds allowed browser origins
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// A missing file is not an error: defaults and environment overrides apply.
func Load(path string) (*Config, error) {
	// .env is optional; a missing file is fine
	_ = godotenv.Load()

	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := decode(path, expandEnvVars(string(data)), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// DefaultPath returns the config file location used when none is given.
// Priority: CALORIES_CONFIG, $XDG_CONFIG_HOME/calories/gateway.yaml, ~/.config/calories/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("CALORIES_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "calories", "gateway.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gateway.yaml"
	}
	return filepath.Join(home, ".config", "calories", "gateway.yaml")
}

func decode(path, data string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(data, cfg)
		return err
	}
	return yaml.Unmarshal([]byte(data), cfg)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides honors the variables the service has always been deployed with.
func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("MCP_PORT"); port != "" {
		cfg.Server.HTTPAddr = "0.0.0.0:" + port
	}
	if base := os.Getenv("BASE_URL"); base != "" {
		cfg.Server.BaseURL = base
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = DefaultBaseURL
		cfg.Server.baseURLDefaulted = true
	}
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DefaultDatabaseDriver
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = DefaultDatabaseDSN
	}
	if cfg.Auth.Approval == "" {
		cfg.Auth.Approval = ApprovalAuto
	}
	if cfg.Auth.AccessTokenTTL == 0 {
		cfg.Auth.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if cfg.Transport.HeartbeatInterval == 0 {
		cfg.Transport.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Analysis.Timeout == 0 {
		cfg.Analysis.Timeout = DefaultAnalysisTimeout
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3", "mysql":
	default:
		return fmt.Errorf("database.driver %q is not supported (sqlite, sqlite3, mysql)", c.Database.Driver)
	}

	switch c.Auth.Approval {
	case ApprovalAuto, ApprovalStrict:
	default:
		return fmt.Errorf("auth.approval must be %q or %q, got %q", ApprovalAuto, ApprovalStrict, c.Auth.Approval)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Transport.HeartbeatInterval < 0 {
		return fmt.Errorf("transport.heartbeat_interval must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.access_token_ttl", cfg.Auth.AccessTokenTTLRaw, &cfg.Auth.AccessTokenTTL},
		{"transport.heartbeat_interval", cfg.Transport.HeartbeatIntervalRaw, &cfg.Transport.HeartbeatInterval},
		{"analysis.timeout", cfg.Analysis.TimeoutRaw, &cfg.Analysis.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// DefaultYAML is the template written by `calories-gateway init`.
const DefaultYAML = `# calories-gateway configuration
server:
  http_addr: "0.0.0.0:8787"
  # grpc_addr: "0.0.0.0:50051"   # enables grpc.health.v1
  base_url: "${BASE_URL}"

database:
  driver: "sqlite"               # sqlite, sqlite3, mysql
  dsn: "calories.db"

auth:
  approval: "auto"               # auto, strict
  # jwt_secret: "${CALORIES_JWT_SECRET}"
  access_token_ttl: "1h"
  require_bearer: false

transport:
  heartbeat_interval: "30s"

analysis:
  # base_url: "http://localhost:8000"
  timeout: "10s"

tailscale:
  enabled: false
  hostname: "calories"
  auth_key: "${TS_AUTHKEY}"
  funnel: false

logging:
  level: "info"                  # debug, info, warn, error
  format: "text"                 # text, json
`
