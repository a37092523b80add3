package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WAGERD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WAGERD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.VaultAddress, "WAGERD_LEDGER_VAULT_ADDRESS")
	setStr(&cfg.Ledger.TreasuryAddress, "WAGERD_LEDGER_TREASURY_ADDRESS")
	setUint32(&cfg.Ledger.FeeBps, "WAGERD_LEDGER_FEE_BPS")
	setInt(&cfg.Ledger.MaxFillers, "WAGERD_LEDGER_MAX_FILLERS")
	setUint64(&cfg.Ledger.MinDisputeStake, "WAGERD_LEDGER_MIN_DISPUTE_STAKE")
	setDuration(&cfg.Ledger.DisputeWindow, "WAGERD_LEDGER_DISPUTE_WINDOW")
	setUint32(&cfg.Ledger.DisputeRewardBps, "WAGERD_LEDGER_DISPUTE_REWARD_BPS")
	setInt64(&cfg.Ledger.ScoreTolerance, "WAGERD_LEDGER_SCORE_TOLERANCE")
	setDuration(&cfg.Ledger.SweepInterval, "WAGERD_LEDGER_SWEEP_INTERVAL")
	setUint8(&cfg.Ledger.CollateralDecimals, "WAGERD_LEDGER_COLLATERAL_DECIMALS")
	setStringSlice(&cfg.Ledger.Keepers, "WAGERD_LEDGER_KEEPERS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WAGERD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WAGERD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WAGERD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WAGERD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WAGERD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WAGERD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WAGERD_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "WAGERD_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "WAGERD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WAGERD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WAGERD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WAGERD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WAGERD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WAGERD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WAGERD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WAGERD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WAGERD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WAGERD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WAGERD_S3_REGION")
	setStr(&cfg.S3.Bucket, "WAGERD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WAGERD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WAGERD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WAGERD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WAGERD_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WAGERD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WAGERD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "WAGERD_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "WAGERD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMin, "WAGERD_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WAGERD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WAGERD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WAGERD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WAGERD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WAGERD_MODE")
	setStr(&cfg.LogLevel, "WAGERD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint8(dst *uint8, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			*dst = uint8(n)
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
