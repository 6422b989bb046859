// Package config loads the auction engine configuration from an optional
// YAML file, fills in defaults, and applies environment overrides.
package config

import "time"

// Config is the full engine configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Registry RegistryConfig `yaml:"registry"`
	Custody  CustodyConfig  `yaml:"custody"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// DatabaseConfig selects PostgreSQL. An empty URL means the in-memory store.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig enables the read-through cache and the Redis custody backend.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// NATSConfig enables publishing auction events to JetStream.
type NATSConfig struct {
	URL    string        `yaml:"url"`
	MaxAge time.Duration `yaml:"max_age"`
}

// RegistryConfig holds the registry identities and listing caps.
type RegistryConfig struct {
	EscrowAccount      string   `yaml:"escrow_account"`
	Admins             []string `yaml:"admins"`
	MaxActivePerSeller int      `yaml:"max_active_per_seller"`
	// MaxEscrowPerAsset is a decimal string; empty or "0" disables the cap.
	MaxEscrowPerAsset string `yaml:"max_escrow_per_asset"`
}

// CustodyConfig selects where balances live.
type CustodyConfig struct {
	Backend string   `yaml:"backend"` // "memory" or "redis"
	Assets  []string `yaml:"assets"`
	// Faucet exposes mint and credit endpoints. Development only.
	Faucet bool `yaml:"faucet"`
}

// AuthConfig lists the bearer tokens accepted by the API. Mutating requests
// act for the account their token maps to. Keep tokens out of the file with
// ${VAR} references.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens"` // token -> account
}
