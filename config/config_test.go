package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"juryledger/crypto"
)

const testAdmin = "0x4200000000000000000000000000000000000024"

func TestLoadCreatesDefaultWithAdminKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "escrowd.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddress)
	require.Equal(t, EngineLevelDB, cfg.Storage.Engine)
	require.Equal(t, uint64(2), cfg.FeePercent)
	require.Equal(t, uint64(10), cfg.JurorRewardPercent)
	require.Equal(t, filepath.Join(dir, "admin.keystore"), cfg.AdminKeystorePath)

	key, err := crypto.LoadFromKeystore(cfg.AdminKeystorePath, "")
	require.NoError(t, err)
	admin, err := cfg.AdminAddress()
	require.NoError(t, err)
	require.Equal(t, key.Address(), admin)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Admin, reloaded.Admin)
}

func TestLoadParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrowd.toml")
	contents := `ListenAddress = "0.0.0.0:9000"
DataDir = "/var/lib/escrow"
Admin = "` + testAdmin + `"
FeePercent = 3
JurorRewardPercent = 12

[Storage]
Engine = "bolt"

[Auth]
HMACSecret = "s3cret"
Issuer = "issuer"
ClockSkewSeconds = 5

[Payout]
Mode = "webhook"
URL = "https://payouts.internal/v1/transfers"
TimeoutSeconds = 3

[Archive]
Driver = "postgres"
DSN = "postgres://escrow@localhost/escrow"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, EngineBolt, cfg.Storage.Engine)
	require.Equal(t, uint64(3), cfg.FeeSchedule().FeePercent)
	require.Equal(t, "3s", cfg.Payout.Timeout().String())
	require.Equal(t, "5s", cfg.Auth.ClockSkew().String())
	require.Equal(t, ArchivePostgres, cfg.Archive.Driver)
	// Unset sections keep their defaults.
	require.Equal(t, 40, cfg.RateLimit.Burst)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrowd.toml")
	require.NoError(t, os.WriteFile(path, []byte("Admin = \""+testAdmin+"\"\nValidatorKey = \"x\"\n"), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "ValidatorKey")
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"ESCROWD_LISTEN":                 ":7000",
		"ESCROWD_ADMIN":                  testAdmin,
		"ESCROWD_FEE_PERCENT":            "5",
		"ESCROWD_STORAGE_ENGINE":         "memory",
		"ESCROWD_RATE_LIMIT_RPS":         "2.5",
		"ESCROWD_OTEL_TRACES":            "true",
		"ESCROWD_PAYOUT_TIMEOUT_SECONDS": "7",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	require.NoError(t, applyEnv(cfg, lookup))
	require.Equal(t, ":7000", cfg.ListenAddress)
	require.Equal(t, uint64(5), cfg.FeePercent)
	require.Equal(t, EngineMemory, cfg.Storage.Engine)
	require.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	require.True(t, cfg.Telemetry.Traces)
	require.Equal(t, int64(7), cfg.Payout.TimeoutSeconds)

	env["ESCROWD_FEE_PERCENT"] = "lots"
	require.ErrorContains(t, applyEnv(cfg, lookup), "ESCROWD_FEE_PERCENT")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Admin = testAdmin
		cfg.Auth.HMACSecret = "secret"
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"engine":      func(c *Config) { c.Storage.Engine = "rocks" },
		"admin":       func(c *Config) { c.Admin = "not-an-address" },
		"zero admin":  func(c *Config) { c.Admin = "0x0000000000000000000000000000000000000000" },
		"fees":        func(c *Config) { c.FeePercent, c.JurorRewardPercent = 50, 50 },
		"secret":      func(c *Config) { c.Auth.HMACSecret = "" },
		"webhook url": func(c *Config) { c.Payout.Mode = PayoutWebhook },
		"payout mode": func(c *Config) { c.Payout.Mode = "carrier-pigeon" },
		"archive":     func(c *Config) { c.Archive.Driver = "mysql" },
		"data dir":    func(c *Config) { c.DataDir = "" },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}
}
