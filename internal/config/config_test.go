// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, overrides, defaults and durations

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearOverrides blanks the deployment variables so host env does not leak into tests.
func clearOverrides(t *testing.T) {
	t.Helper()
	for _, name := range []string{"MCP_PORT", "BASE_URL", "DATABASE_URL", "DATABASE_DRIVER"} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	clearOverrides(t)

	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "127.0.0.1:9000"
  grpc_addr: "127.0.0.1:50051"
  base_url: "https://example.test/"

database:
  driver: "sqlite3"
  dsn: "./test.db"

auth:
  approval: "strict"
  access_token_ttl: "2h"
  require_bearer: true

transport:
  heartbeat_interval: "15s"

analysis:
  base_url: "http://analysis.local"
  timeout: "3s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:9000")
	}
	if cfg.Server.GRPCAddr != "127.0.0.1:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "127.0.0.1:50051")
	}
	if cfg.Server.BaseURL != "https://example.test" {
		t.Errorf("Server.BaseURL = %q, want trailing slash trimmed", cfg.Server.BaseURL)
	}
	if cfg.Server.BaseURLDefaulted() {
		t.Error("BaseURLDefaulted() = true for a configured base_url")
	}
	if cfg.Database.Driver != "sqlite3" || cfg.Database.DSN != "./test.db" {
		t.Errorf("Database = %+v, want sqlite3 ./test.db", cfg.Database)
	}
	if cfg.Auth.Approval != ApprovalStrict {
		t.Errorf("Auth.Approval = %q, want %q", cfg.Auth.Approval, ApprovalStrict)
	}
	if !cfg.Auth.RequireBearer {
		t.Error("Auth.RequireBearer = false, want true")
	}
	if cfg.Auth.AccessTokenTTL != 2*time.Hour {
		t.Errorf("Auth.AccessTokenTTL = %v, want %v", cfg.Auth.AccessTokenTTL, 2*time.Hour)
	}
	if cfg.Transport.HeartbeatInterval != 15*time.Second {
		t.Errorf("Transport.HeartbeatInterval = %v, want %v", cfg.Transport.HeartbeatInterval, 15*time.Second)
	}
	if cfg.Analysis.Timeout != 3*time.Second {
		t.Errorf("Analysis.Timeout = %v, want %v", cfg.Analysis.Timeout, 3*time.Second)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	clearOverrides(t)

	configPath := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:7000"
base_url = "https://toml.test"

[database]
driver = "mysql"
dsn = "user:pass@tcp(localhost:3306)/calories?parseTime=true"

[transport]
heartbeat_interval = "5s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:7000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:7000")
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q, want mysql", cfg.Database.Driver)
	}
	if cfg.Transport.HeartbeatInterval != 5*time.Second {
		t.Errorf("Transport.HeartbeatInterval = %v, want 5s", cfg.Transport.HeartbeatInterval)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearOverrides(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.Server.BaseURL != DefaultBaseURL {
		t.Errorf("Server.BaseURL = %q, want %q", cfg.Server.BaseURL, DefaultBaseURL)
	}
	if !cfg.Server.BaseURLDefaulted() {
		t.Error("BaseURLDefaulted() = false for a missing base_url")
	}
	if cfg.Database.Driver != DefaultDatabaseDriver {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DefaultDatabaseDriver)
	}
	if cfg.Auth.Approval != ApprovalAuto {
		t.Errorf("Auth.Approval = %q, want %q", cfg.Auth.Approval, ApprovalAuto)
	}
	if cfg.Auth.AccessTokenTTL != time.Hour {
		t.Errorf("Auth.AccessTokenTTL = %v, want 1h", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Transport.HeartbeatInterval != 30*time.Second {
		t.Errorf("Transport.HeartbeatInterval = %v, want 30s", cfg.Transport.HeartbeatInterval)
	}
	if cfg.Analysis.Timeout != 10*time.Second {
		t.Errorf("Analysis.Timeout = %v, want 10s", cfg.Analysis.Timeout)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Errorf("CORS.AllowedOrigins = %v, want [*]", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearOverrides(t)
	t.Setenv("MCP_PORT", "9999")
	t.Setenv("BASE_URL", "https://override.test")
	t.Setenv("DATABASE_URL", "/tmp/override.db")

	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "127.0.0.1:1234"
  base_url: "https://file.test"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9999" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9999")
	}
	if cfg.Server.BaseURL != "https://override.test" {
		t.Errorf("Server.BaseURL = %q, want override", cfg.Server.BaseURL)
	}
	if cfg.Database.DSN != "/tmp/override.db" {
		t.Errorf("Database.DSN = %q, want override", cfg.Database.DSN)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	clearOverrides(t)
	t.Setenv("TEST_JWT_SECRET", strings.Repeat("s", 40))
	t.Setenv("TEST_ANALYSIS_URL", "http://from-env:8000")

	configPath := writeConfig(t, "config.yaml", `
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
analysis:
  base_url: "${TEST_ANALYSIS_URL}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != strings.Repeat("s", 40) {
		t.Errorf("Auth.JWTSecret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
	if cfg.Analysis.BaseURL != "http://from-env:8000" {
		t.Errorf("Analysis.BaseURL = %q, want %q", cfg.Analysis.BaseURL, "http://from-env:8000")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	clearOverrides(t)

	configPath := writeConfig(t, "config.yaml", `
analysis:
  base_url: "${DEFINITELY_NOT_SET_CALORIES_VAR}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Analysis.BaseURL != "" {
		t.Errorf("Analysis.BaseURL = %q, want empty string for unset env var", cfg.Analysis.BaseURL)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearOverrides(t)

	configPath := writeConfig(t, "config.yaml", "server: [unclosed")

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML, got nil")
	}
	if !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("error = %q, want it to mention parsing config file", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearOverrides(t)

	configPath := writeConfig(t, "config.yaml", `
transport:
  heartbeat_interval: "soon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "transport.heartbeat_interval") {
		t.Errorf("error = %q, want it to name the field", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, "database.driver"},
		{"unknown approval", func(c *Config) { c.Auth.Approval = "manual" }, "auth.approval"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("CALORIES_CONFIG", "/etc/calories/custom.yaml")
	if got := DefaultPath(); got != "/etc/calories/custom.yaml" {
		t.Errorf("DefaultPath() = %q, want CALORIES_CONFIG value", got)
	}

	t.Setenv("CALORIES_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "calories", "gateway.yaml") {
		t.Errorf("DefaultPath() = %q, want XDG location", got)
	}
}

func TestDefaultYAML_Loads(t *testing.T) {
	clearOverrides(t)
	t.Setenv("TS_AUTHKEY", "")

	cfg, err := Load(writeConfig(t, "gateway.yaml", DefaultYAML))
	if err != nil {
		t.Fatalf("Load(DefaultYAML) error = %v", err)
	}
	if cfg.Server.BaseURL != DefaultBaseURL {
		t.Errorf("Server.BaseURL = %q, want default when BASE_URL is unset", cfg.Server.BaseURL)
	}
}
