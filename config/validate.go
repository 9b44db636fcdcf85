package config

import (
	"fmt"
	"strings"

	"juryledger/crypto"
	"juryledger/native/fees"
)

// Storage engines.
const (
	EngineMemory  = "memory"
	EngineLevelDB = "leveldb"
	EngineBolt    = "bolt"
)

// Payout modes.
const (
	PayoutVault   = "vault"
	PayoutWebhook = "webhook"
)

// Archive drivers.
const (
	ArchiveSQLite   = "sqlite"
	ArchivePostgres = "postgres"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	switch c.Storage.Engine {
	case EngineMemory, EngineLevelDB, EngineBolt:
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine != EngineMemory && strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required for %s storage", c.Storage.Engine)
	}
	if _, err := c.AdminAddress(); err != nil {
		return err
	}
	if err := c.FeeSchedule().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("config: Auth.HMACSecret required")
	}
	if c.Auth.ClockSkewSeconds < 0 {
		return fmt.Errorf("config: Auth.ClockSkewSeconds must not be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate limit must not be negative")
	}
	switch c.Payout.Mode {
	case PayoutVault:
	case PayoutWebhook:
		if strings.TrimSpace(c.Payout.URL) == "" {
			return fmt.Errorf("config: Payout.URL required for webhook mode")
		}
	default:
		return fmt.Errorf("config: unknown payout mode %q", c.Payout.Mode)
	}
	switch c.Archive.Driver {
	case ArchiveSQLite, ArchivePostgres:
	default:
		return fmt.Errorf("config: unknown archive driver %q", c.Archive.Driver)
	}
	if strings.TrimSpace(c.Archive.DSN) == "" {
		return fmt.Errorf("config: Archive.DSN required")
	}
	return nil
}

// AdminAddress parses the configured admin account.
func (c *Config) AdminAddress() (crypto.Address, error) {
	addr, err := crypto.ParseAddress(c.Admin)
	if err != nil {
		return crypto.ZeroAddress, fmt.Errorf("config: invalid Admin: %w", err)
	}
	if addr.IsZero() {
		return crypto.ZeroAddress, fmt.Errorf("config: Admin must not be the zero address")
	}
	return addr, nil
}

// FeeSchedule returns the deployment fee schedule.
func (c *Config) FeeSchedule() fees.Schedule {
	return fees.Schedule{FeePercent: c.FeePercent, JurorRewardPercent: c.JurorRewardPercent}
}
