// Package config defines the top-level configuration for the wagering
// ledger daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WAGERD_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds the economic parameters of the escrow engine and the
// well-known accounts it operates.
type LedgerConfig struct {
	// VaultAddress is the escrow account all staked collateral is pulled into.
	VaultAddress string `toml:"vault_address"`
	// TreasuryAddress receives withdrawn platform fees.
	TreasuryAddress string `toml:"treasury_address"`
	// FeeBps is the platform fee in basis points taken from each settled pot.
	FeeBps uint32 `toml:"fee_bps"`
	// MaxFillers caps the number of fills a single wager accepts.
	MaxFillers int `toml:"max_fillers"`
	// MinDisputeStake is the dispute stake floor in whole tokens; the engine
	// scales it by the collateral token's decimals.
	MinDisputeStake uint64 `toml:"min_dispute_stake"`
	// DisputeWindow is how long after consensus a challenge is accepted.
	DisputeWindow duration `toml:"dispute_window"`
	// DisputeRewardBps is the challenger reward on a successful dispute, in
	// basis points of the pot.
	DisputeRewardBps uint32 `toml:"dispute_reward_bps"`
	// ScoreTolerance is the maximum keeper score error that escapes penalty.
	ScoreTolerance int64 `toml:"score_tolerance"`
	// SweepInterval is the cadence of the expired-wager sweeper in sweep mode.
	SweepInterval duration `toml:"sweep_interval"`
	// CollateralDecimals is the smallest-unit scale of the collateral token.
	CollateralDecimals uint8 `toml:"collateral_decimals"`
	// Keepers seeds the genesis keeper set on first start, "address=contact".
	Keepers []string `toml:"keepers"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for proposition
// content.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects the API when set; empty disables authentication.
	APIKey string `toml:"api_key"`
	// RateLimitPerMin caps mutating requests per caller per minute; 0 disables.
	RateLimitPerMin int `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "24h", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "24h" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// KeeperSeed is one genesis keeper entry parsed from the config.
type KeeperSeed struct {
	Addr    common.Address
	Contact string
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			FeeBps:             10, // 0.1%
			MaxFillers:         64,
			MinDisputeStake:    100,
			DisputeWindow:      duration{24 * time.Hour},
			DisputeRewardBps:   500, // 5% of the pot
			ScoreTolerance:     50,
			SweepInterval:      duration{time.Minute},
			CollateralDecimals: 6,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wagerd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wagerd-content",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"wager_settled", "dispute_raised", "dispute_resolved", "error"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"sweep":   true,
	"migrate": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sweep, migrate)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger accounts
	if !common.IsHexAddress(c.Ledger.VaultAddress) {
		errs = append(errs, fmt.Sprintf("ledger: vault_address %q is not a valid hex address", c.Ledger.VaultAddress))
	}
	if !common.IsHexAddress(c.Ledger.TreasuryAddress) {
		errs = append(errs, fmt.Sprintf("ledger: treasury_address %q is not a valid hex address", c.Ledger.TreasuryAddress))
	}
	if common.IsHexAddress(c.Ledger.VaultAddress) &&
		common.HexToAddress(c.Ledger.VaultAddress) == common.HexToAddress(c.Ledger.TreasuryAddress) {
		errs = append(errs, "ledger: vault_address and treasury_address must differ")
	}

	// Ledger economics
	if c.Ledger.FeeBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("ledger: fee_bps must be below 10000, got %d", c.Ledger.FeeBps))
	}
	if c.Ledger.MaxFillers < 1 {
		errs = append(errs, "ledger: max_fillers must be >= 1")
	}
	if c.Ledger.DisputeWindow.Duration <= 0 {
		errs = append(errs, "ledger: dispute_window must be > 0")
	}
	if c.Ledger.DisputeRewardBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("ledger: dispute_reward_bps must be below 10000, got %d", c.Ledger.DisputeRewardBps))
	}
	if c.Ledger.ScoreTolerance < 0 {
		errs = append(errs, "ledger: score_tolerance must be >= 0")
	}
	if c.Ledger.SweepInterval.Duration <= 0 {
		errs = append(errs, "ledger: sweep_interval must be > 0")
	}
	if len(c.Ledger.Keepers) == 0 {
		errs = append(errs, "ledger: at least one genesis keeper is required")
	}
	for _, k := range c.Ledger.Keepers {
		addr, _, ok := strings.Cut(k, "=")
		if !ok || !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("ledger: keeper entry %q must be address=contact", k))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server: rate_limit_per_min must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// GenesisKeepers parses the ledger.keepers entries into address/contact
// pairs, skipping malformed ones. Call after Validate.
func (c *Config) GenesisKeepers() []KeeperSeed {
	out := make([]KeeperSeed, 0, len(c.Ledger.Keepers))
	for _, k := range c.Ledger.Keepers {
		addr, contact, ok := strings.Cut(k, "=")
		if !ok || !common.IsHexAddress(addr) {
			continue
		}
		out = append(out, KeeperSeed{Addr: common.HexToAddress(addr), Contact: contact})
	}
	return out
}
