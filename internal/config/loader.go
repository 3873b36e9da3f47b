package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYPULSE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYPULSE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYPULSE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYPULSE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYPULSE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYPULSE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYPULSE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYPULSE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYPULSE_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "POLYPULSE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYPULSE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYPULSE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYPULSE_REDIS_DB")
	setBool(&cfg.Redis.Enabled, "POLYPULSE_REDIS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYPULSE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYPULSE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYPULSE_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYPULSE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYPULSE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYPULSE_S3_SECRET_KEY")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "POLYPULSE_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.ClobHost, "POLYPULSE_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.ApiKey, "POLYPULSE_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYPULSE_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYPULSE_POLYMARKET_API_PASSPHRASE")

	// ── Pipeline ──
	setInt(&cfg.Pipeline.AnalysisIntervalMinutes, "POLYPULSE_PIPELINE_ANALYSIS_INTERVAL_MINUTES")
	setInt(&cfg.Pipeline.OrderbookConcurrency, "POLYPULSE_PIPELINE_ORDERBOOK_CONCURRENCY")
	setInt(&cfg.Pipeline.RetentionDays, "POLYPULSE_PIPELINE_RETENTION_DAYS")
	setInt(&cfg.Pipeline.MaxMarkets, "POLYPULSE_PIPELINE_MAX_MARKETS")

	// ── Analysis ──
	setFloat(&cfg.Analysis.SpikeRatioThreshold, "POLYPULSE_ANALYSIS_SPIKE_RATIO_THRESHOLD")
	setFloat(&cfg.Analysis.SpreadAlertPct, "POLYPULSE_ANALYSIS_SPREAD_ALERT_PCT")
	setFloat(&cfg.Analysis.DepthDropPct, "POLYPULSE_ANALYSIS_DEPTH_DROP_PCT")
	setFloat(&cfg.Analysis.MinArbitrageProfit, "POLYPULSE_ANALYSIS_MIN_ARBITRAGE_PROFIT")
	setFloat(&cfg.Analysis.FeePerTrade, "POLYPULSE_ANALYSIS_FEE_PER_TRADE")
	setFloat(&cfg.Analysis.MinLiquidity, "POLYPULSE_ANALYSIS_MIN_LIQUIDITY")
	setInt(&cfg.Analysis.BaselineLookbackDays, "POLYPULSE_ANALYSIS_BASELINE_LOOKBACK_DAYS")
	setInt(&cfg.Analysis.MMWindowMinutes, "POLYPULSE_ANALYSIS_MM_WINDOW_MINUTES")
	setInt(&cfg.Analysis.OrderbookFreshnessSeconds, "POLYPULSE_ANALYSIS_ORDERBOOK_FRESHNESS_SECONDS")

	// ── Server ──
	setInt(&cfg.Server.Port, "POLYPULSE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLYPULSE_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramBotToken, "POLYPULSE_NOTIFY_TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYPULSE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYPULSE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.MinSeverity, "POLYPULSE_NOTIFY_MIN_SEVERITY")

	setStr(&cfg.Mode, "POLYPULSE_MODE")
	setStr(&cfg.LogLevel, "POLYPULSE_LOG_LEVEL")
}

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

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
