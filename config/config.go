package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"juryledger/crypto"
	"juryledger/native/fees"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ESCROWD_"

// Config is the escrowd node configuration.
type Config struct {
	ListenAddress      string `toml:"ListenAddress"`
	MetricsAddress     string `toml:"MetricsAddress"`
	DataDir            string `toml:"DataDir"`
	Admin              string `toml:"Admin"`
	AdminKeystorePath  string `toml:"AdminKeystorePath"`
	FeePercent         uint64 `toml:"FeePercent"`
	JurorRewardPercent uint64 `toml:"JurorRewardPercent"`

	Storage     Storage     `toml:"Storage"`
	Auth        Auth        `toml:"Auth"`
	RateLimit   RateLimit   `toml:"RateLimit"`
	Payout      Payout      `toml:"Payout"`
	Archive     Archive     `toml:"Archive"`
	Idempotency Idempotency `toml:"Idempotency"`
	Telemetry   Telemetry   `toml:"Telemetry"`
	Log         Log         `toml:"Log"`
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		ListenAddress:      ":8080",
		MetricsAddress:     ":9100",
		DataDir:            "./escrow-data",
		FeePercent:         fees.DefaultFeePercent,
		JurorRewardPercent: fees.DefaultJurorRewardPercent,
		Storage:            Storage{Engine: EngineLevelDB},
		Auth:               Auth{Issuer: "escrowd", Audience: "escrowd", ClockSkewSeconds: 30},
		RateLimit:          RateLimit{RequestsPerSecond: 20, Burst: 40},
		Payout:             Payout{Mode: PayoutVault, TimeoutSeconds: 10},
		Archive:            Archive{Driver: ArchiveSQLite, DSN: "./escrow-data/archive.db"},
		Idempotency:        Idempotency{Path: "./escrow-data/idempotency.db", TTLSeconds: 86400},
		Telemetry:          Telemetry{Endpoint: "localhost:4318", Insecure: true},
		Log:                Log{Level: "info"},
	}
}

// Load reads the configuration at path, creating a default file (and an admin
// keystore) when it does not exist. Values from a .env file in the working
// directory and ESCROWD_* variables override the file.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	var cfg *Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = Default()
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
		}
		if strings.TrimSpace(cfg.Admin) == "" {
			if err := ensureAdmin(path, cfg); err != nil {
				return nil, err
			}
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env from the working directory when present. Variables
// already set in the environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load .env: %w", err)
	}
	return nil
}

func ensureAdmin(configPath string, cfg *Config) error {
	keystorePath := cfg.AdminKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	key, err := crypto.LoadFromKeystore(keystorePath, os.Getenv(EnvPrefix+"ADMIN_PASSPHRASE"))
	if errors.Is(err, fs.ErrNotExist) {
		key, err = crypto.GeneratePrivateKey()
		if err != nil {
			return err
		}
		if err := crypto.SaveToKeystore(keystorePath, key, os.Getenv(EnvPrefix+"ADMIN_PASSPHRASE")); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	cfg.Admin = key.Address().String()
	cfg.AdminKeystorePath = keystorePath
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := ensureAdmin(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "admin.keystore")
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *uint64) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("config: parse %s%s: %w", EnvPrefix, name, err)
		}
		*dst = parsed
		return nil
	}
	signed := func(name string, dst *int64) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("config: parse %s%s: %w", EnvPrefix, name, err)
		}
		*dst = parsed
		return nil
	}

	str("LISTEN", &cfg.ListenAddress)
	str("METRICS_LISTEN", &cfg.MetricsAddress)
	str("DATA_DIR", &cfg.DataDir)
	str("ADMIN", &cfg.Admin)
	str("STORAGE_ENGINE", &cfg.Storage.Engine)
	str("AUTH_SECRET", &cfg.Auth.HMACSecret)
	str("AUTH_ISSUER", &cfg.Auth.Issuer)
	str("AUTH_AUDIENCE", &cfg.Auth.Audience)
	str("PAYOUT_MODE", &cfg.Payout.Mode)
	str("PAYOUT_URL", &cfg.Payout.URL)
	str("PAYOUT_TOKEN", &cfg.Payout.Token)
	str("ARCHIVE_DRIVER", &cfg.Archive.Driver)
	str("ARCHIVE_DSN", &cfg.Archive.DSN)
	str("IDEMPOTENCY_PATH", &cfg.Idempotency.Path)
	str("OTEL_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("ENV", &cfg.Telemetry.Environment)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)

	if err := num("FEE_PERCENT", &cfg.FeePercent); err != nil {
		return err
	}
	if err := num("JUROR_REWARD_PERCENT", &cfg.JurorRewardPercent); err != nil {
		return err
	}
	if err := signed("PAYOUT_TIMEOUT_SECONDS", &cfg.Payout.TimeoutSeconds); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "RATE_LIMIT_RPS"); ok {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("config: parse %sRATE_LIMIT_RPS: %w", EnvPrefix, err)
		}
		cfg.RateLimit.RequestsPerSecond = parsed
	}
	if v, ok := lookup(EnvPrefix + "OTEL_TRACES"); ok {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: parse %sOTEL_TRACES: %w", EnvPrefix, err)
		}
		cfg.Telemetry.Traces = enabled
	}
	return nil
}
