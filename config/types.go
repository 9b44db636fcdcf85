package config

import "time"

// Storage selects the state backend.
type Storage struct {
	// Engine is one of memory, leveldb or bolt.
	Engine string `toml:"Engine"`
}

// Auth configures bearer token verification. Tokens are HS256 JWTs whose
// subject is the caller's address.
type Auth struct {
	HMACSecret       string `toml:"HMACSecret"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds int64  `toml:"ClockSkewSeconds"`
}

// RateLimit bounds requests per client.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Payout selects how withdrawn funds leave custody.
type Payout struct {
	// Mode is vault or webhook.
	Mode           string `toml:"Mode"`
	URL            string `toml:"URL"`
	Token          string `toml:"Token"`
	TimeoutSeconds int64  `toml:"TimeoutSeconds"`
}

// Archive configures the committed event archive.
type Archive struct {
	// Driver is sqlite or postgres.
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Idempotency configures the replay store for mutating requests.
type Idempotency struct {
	Path       string `toml:"Path"`
	TTLSeconds int64  `toml:"TTLSeconds"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Headers     map[string]string `toml:"Headers"`
	Traces      bool              `toml:"Traces"`
	Metrics     bool              `toml:"Metrics"`
	Environment string            `toml:"Environment"`
}

// Log configures structured logging.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Timeout returns the webhook request timeout.
func (p Payout) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ClockSkew returns the tolerated token clock skew.
func (a Auth) ClockSkew() time.Duration {
	return time.Duration(a.ClockSkewSeconds) * time.Second
}

// TTL returns how long idempotent responses are replayed.
func (i Idempotency) TTL() time.Duration {
	if i.TTLSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(i.TTLSeconds) * time.Second
}
