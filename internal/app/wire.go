package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/openwager/wagerd/internal/blob/s3"
	"github.com/openwager/wagerd/internal/cache/redis"
	"github.com/openwager/wagerd/internal/config"
	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/notify"
	"github.com/openwager/wagerd/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Postgres client, kept for migrate mode.
	PG *postgres.Client

	// Stores
	WagerStore  domain.WagerStore
	KeeperStore domain.KeeperStore
	StateStore  domain.LedgerStateStore
	AuditStore  domain.AuditStore

	// Redis
	WagerCache  domain.WagerCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Object storage
	ContentStore domain.ContentStore
	Archiver     *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsRedis returns true for modes that coordinate across instances or
// publish events.
func needsRedis(mode string) bool {
	switch mode {
	case "serve", "sweep":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that touch proposition content or archives.
func needsS3(mode string) bool {
	switch mode {
	case "serve", "sweep":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (every mode journals or migrates) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.PG = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	wagerStore := postgres.NewWagerStore(pool)
	deps.WagerStore = wagerStore
	deps.KeeperStore = postgres.NewKeeperStore(pool)
	deps.StateStore = postgres.NewLedgerStateStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.WagerCache = redis.NewWagerCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 object storage ---
	if needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.ContentStore = s3blob.NewContentStore(s3Client)
		deps.Archiver = s3blob.NewArchiver(s3Client, wagerStore, deps.AuditStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
