package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/polypulse/polypulse/internal/blob/s3"
	"github.com/polypulse/polypulse/internal/cache/redis"
	"github.com/polypulse/polypulse/internal/config"
	"github.com/polypulse/polypulse/internal/notify"
	"github.com/polypulse/polypulse/internal/platform/polymarket"
	"github.com/polypulse/polypulse/internal/store/postgres"
)

// Dependencies bundles the concrete infrastructure every mode builds on.
// Redis, S3, and the notifier are optional; their fields are nil when the
// corresponding configuration is absent or disabled.
type Dependencies struct {
	// Postgres stores
	PG      *postgres.Client
	Markets *postgres.MarketStore
	Books   *postgres.OrderbookStore
	Trades  *postgres.TradeStore
	Edges   *postgres.RelationshipStore
	Alerts  *postgres.AlertStore

	// Redis (optional)
	Redis     *redis.Client
	BookCache *redis.BookCache
	AlertBus  *redis.AlertBus
	Limiter   *redis.RateLimiter
	Locks     *redis.LockManager

	// S3 cold storage (optional)
	S3       *s3blob.Client
	Archiver *s3blob.Archiver

	// Polymarket API clients
	Gamma *polymarket.GammaClient
	Clob  *polymarket.ClobClient

	// Notifier is nil when no outbound channel is configured.
	Notifier *notify.Notifier
}

// Wire constructs every concrete dependency from the configuration and
// returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PG = pgClient
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Books = postgres.NewOrderbookStore(pool)
	deps.Trades = postgres.NewTradeStore(pool)
	deps.Edges = postgres.NewRelationshipStore(pool)
	deps.Alerts = postgres.NewAlertStore(pool)

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		deps.Redis = redisClient
		deps.BookCache = redis.NewBookCache(redisClient, cfg.Analysis.OrderbookFreshness())
		deps.AlertBus = redis.NewAlertBus(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
	} else {
		logger.Warn("redis disabled; running without cache, bus, lock, or rate limiter")
	}

	// --- S3 cold storage ---
	if cfg.S3.Enabled {
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
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(s3Client)
	}

	// --- Polymarket API clients ---
	retryBase := time.Duration(cfg.Polymarket.RetryBaseMs) * time.Millisecond
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	deps.Gamma.SetRetry(cfg.Polymarket.MaxRetries, retryBase)
	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, "")
	deps.Clob.SetRetry(cfg.Polymarket.MaxRetries, retryBase)
	if cfg.Polymarket.ApiKey != "" {
		deps.Clob.SetCredentials(cfg.Polymarket.ApiKey, cfg.Polymarket.ApiSecret, cfg.Polymarket.ApiPassphrase)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramBotToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramBotToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.MinSeverity, logger)
	}

	return deps, cleanup, nil
}
