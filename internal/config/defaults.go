package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPort            = "8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultMaxConns        = 10
	DefaultCacheTTL        = 30 * time.Second
	DefaultEventMaxAge     = 7 * 24 * time.Hour
	DefaultCustodyBackend  = "memory"

	// DefaultEscrowAccount and DefaultAsset make a bare development start
	// usable without a config file.
	DefaultEscrowAccount = "0x000000000000000000000000000000000000e5c0"
	DefaultAsset         = "0x000000000000000000000000000000000000a55e"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = DefaultIdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}

	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = DefaultCacheTTL
	}
	if c.NATS.MaxAge == 0 {
		c.NATS.MaxAge = DefaultEventMaxAge
	}

	// Registry and custody defaults
	if c.Registry.EscrowAccount == "" {
		c.Registry.EscrowAccount = DefaultEscrowAccount
	}
	if c.Registry.MaxEscrowPerAsset == "" {
		c.Registry.MaxEscrowPerAsset = "0"
	}
	if c.Custody.Backend == "" {
		c.Custody.Backend = DefaultCustodyBackend
	}
	if len(c.Custody.Assets) == 0 {
		c.Custody.Assets = []string{DefaultAsset}
	}
}
