package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv keeps the host environment from leaking into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "DATABASE_URL", "REDIS_URL", "NATS_URL", "ESCROW_ACCOUNT"} {
		t.Setenv(k, "")
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
server:
  port: "9000"
  read_timeout: 5s
database:
  url: postgres://localhost/auctions
registry:
  escrow_account: "0x00000000000000000000000000000000000000e5"
  admins:
    - "0x00000000000000000000000000000000000000ad"
  max_active_per_seller: 3
  max_escrow_per_asset: "1000.5"
custody:
  backend: memory
  assets:
    - "0x00000000000000000000000000000000000000f0"
  faucet: true
`
	cfg, err := Load(writeTempFile(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "9000" {
		t.Errorf("Server.Port = %q, want %q", cfg.Server.Port, "9000")
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 5s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.URL != "postgres://localhost/auctions" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if len(cfg.Registry.Admins) != 1 {
		t.Errorf("Registry.Admins = %v, want one admin", cfg.Registry.Admins)
	}
	if cfg.Registry.MaxActivePerSeller != 3 {
		t.Errorf("Registry.MaxActivePerSeller = %d, want 3", cfg.Registry.MaxActivePerSeller)
	}
	if !cfg.Custody.Faucet {
		t.Error("Custody.Faucet = false, want true")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_REDIS_PASSWORD", "secret123")

	yaml := `
redis:
  url: redis://:${TEST_REDIS_PASSWORD}@localhost:6379/0
`
	cfg, err := Load(writeTempFile(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Redis.URL != "redis://:secret123@localhost:6379/0" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
}

func TestLoadWithDefaults_NoFile(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadWithDefaults("")
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %q, want %q", cfg.Server.Port, DefaultPort)
	}
	if cfg.Redis.CacheTTL != DefaultCacheTTL {
		t.Errorf("Redis.CacheTTL = %v, want %v", cfg.Redis.CacheTTL, DefaultCacheTTL)
	}
	if cfg.Custody.Backend != DefaultCustodyBackend {
		t.Errorf("Custody.Backend = %q, want %q", cfg.Custody.Backend, DefaultCustodyBackend)
	}
	if cfg.Registry.EscrowAccount != DefaultEscrowAccount {
		t.Errorf("Registry.EscrowAccount = %q, want %q", cfg.Registry.EscrowAccount, DefaultEscrowAccount)
	}
	if len(cfg.Custody.Assets) != 1 || cfg.Custody.Assets[0] != DefaultAsset {
		t.Errorf("Custody.Assets = %v, want [%s]", cfg.Custody.Assets, DefaultAsset)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if !cfg.MaxEscrowPerAsset().IsZero() {
		t.Errorf("MaxEscrowPerAsset = %s, want 0", cfg.MaxEscrowPerAsset())
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("NATS_URL", "nats://env:4222")

	path := writeTempFile(t, `
server:
  port: "9000"
database:
  url: postgres://file/db
`)
	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("Server.Port = %q, want env value", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://env/db" {
		t.Errorf("Database.URL = %q, want env value", cfg.Database.URL)
	}
	if cfg.NATS.URL != "nats://env:4222" {
		t.Errorf("NATS.URL = %q, want env value", cfg.NATS.URL)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = "http" }, "server.port"},
		{"port out of range", func(c *Config) { c.Server.Port = "70000" }, "server.port"},
		{"bad escrow", func(c *Config) { c.Registry.EscrowAccount = "escrow" }, "registry.escrow_account"},
		{"bad admin", func(c *Config) { c.Registry.Admins = []string{"0x1"} }, "registry.admins"},
		{"negative listings", func(c *Config) { c.Registry.MaxActivePerSeller = -1 }, "max_active_per_seller"},
		{"bad escrow cap", func(c *Config) { c.Registry.MaxEscrowPerAsset = "lots" }, "max_escrow_per_asset"},
		{"negative escrow cap", func(c *Config) { c.Registry.MaxEscrowPerAsset = "-1" }, "max_escrow_per_asset"},
		{"unknown backend", func(c *Config) { c.Custody.Backend = "ethereum" }, "custody.backend"},
		{"redis backend without url", func(c *Config) { c.Custody.Backend = "redis" }, "redis.url"},
		{"bad asset", func(c *Config) { c.Custody.Assets = []string{"gold"} }, "custody.assets"},
		{"bad token account", func(c *Config) { c.Auth.Tokens = map[string]string{"t": "alice"} }, "auth.tokens"},
		{"empty token", func(c *Config) {
			c.Auth.Tokens = map[string]string{"": "0x00000000000000000000000000000000000000a1"}
		}, "auth.tokens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadWithDefaults("")
			if err != nil {
				t.Fatalf("LoadWithDefaults failed: %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAndValidate_NormalizesAddresses(t *testing.T) {
	clearEnv(t)
	path := writeTempFile(t, `
registry:
  escrow_account: "0x00000000000000000000000000000000000000E5"
  admins: ["0X00000000000000000000000000000000000000AD"]
custody:
  assets: ["0x00000000000000000000000000000000000000F0"]
`)
	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.Registry.EscrowAccount != "0x00000000000000000000000000000000000000e5" {
		t.Errorf("EscrowAccount = %q, want lowercase", cfg.Registry.EscrowAccount)
	}
	if cfg.Registry.Admins[0] != "0x00000000000000000000000000000000000000ad" {
		t.Errorf("Admins[0] = %q, want lowercase", cfg.Registry.Admins[0])
	}
	if cfg.Custody.Assets[0] != "0x00000000000000000000000000000000000000f0" {
		t.Errorf("Assets[0] = %q, want lowercase", cfg.Custody.Assets[0])
	}
}

func TestLoadAndValidate_AuthTokensFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SELLER_TOKEN", "s3cret")
	path := writeTempFile(t, `
custody:
  assets: ["0x00000000000000000000000000000000000000f0"]
auth:
  tokens:
    ${SELLER_TOKEN}: "0x00000000000000000000000000000000000000A1"
`)
	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if got := cfg.Auth.Tokens["s3cret"]; got != "0x00000000000000000000000000000000000000a1" {
		t.Errorf("Tokens[s3cret] = %q, want lowercase seller", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
