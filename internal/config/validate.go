package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/atmx/dutch-engine/internal/address"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %q", c.Server.Port)
	}

	if c.Database.MaxConns < 1 {
		return errors.New("database.max_conns must be >= 1")
	}

	if _, err := address.Parse(c.Registry.EscrowAccount); err != nil {
		return fmt.Errorf("registry.escrow_account: %w", err)
	}
	if _, err := address.ParseAll(c.Registry.Admins); err != nil {
		return fmt.Errorf("registry.admins: %w", err)
	}
	if c.Registry.MaxActivePerSeller < 0 {
		return errors.New("registry.max_active_per_seller must be >= 0")
	}
	maxEscrow, err := decimal.NewFromString(c.Registry.MaxEscrowPerAsset)
	if err != nil {
		return fmt.Errorf("registry.max_escrow_per_asset: %w", err)
	}
	if maxEscrow.IsNegative() {
		return errors.New("registry.max_escrow_per_asset must be >= 0")
	}

	switch c.Custody.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("custody.backend redis requires redis.url")
		}
	default:
		return fmt.Errorf("custody.backend must be memory or redis, got %q", c.Custody.Backend)
	}
	if len(c.Custody.Assets) == 0 {
		return errors.New("custody.assets must list at least one asset")
	}
	if _, err := address.ParseAll(c.Custody.Assets); err != nil {
		return fmt.Errorf("custody.assets: %w", err)
	}

	for token, account := range c.Auth.Tokens {
		if token == "" {
			return fmt.Errorf("auth.tokens: empty token for %s", account)
		}
		if _, err := address.Parse(account); err != nil {
			return fmt.Errorf("auth.tokens: %w", err)
		}
	}

	return nil
}

// MaxEscrowPerAsset returns the parsed per-asset escrow cap. Call after
// Validate.
func (c *Config) MaxEscrowPerAsset() decimal.Decimal {
	d, err := decimal.NewFromString(c.Registry.MaxEscrowPerAsset)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// normalize rewrites every address in canonical lowercase form so the
// ledger and registry key accounts identically. Call after Validate.
func (c *Config) normalize() {
	c.Registry.EscrowAccount = address.MustParse(c.Registry.EscrowAccount)
	if admins, err := address.ParseAll(c.Registry.Admins); err == nil {
		c.Registry.Admins = admins
	}
	if assets, err := address.ParseAll(c.Custody.Assets); err == nil {
		c.Custody.Assets = assets
	}
	for token, account := range c.Auth.Tokens {
		c.Auth.Tokens[token] = address.MustParse(account)
	}
}
