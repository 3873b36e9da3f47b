// Package config defines the top-level configuration for polypulse and
// provides loading and validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POLYPULSE_* environment
// variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Analysis   AnalysisConfig   `toml:"analysis"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`

	// Mode selects which subsystems run: "all", "pipeline", or "server".
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
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
	Enabled    bool   `toml:"enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PolymarketConfig holds Polymarket API endpoints and CLOB credentials. The
// CLOB credentials are only needed for the authenticated trades endpoint.
type PolymarketConfig struct {
	GammaHost     string `toml:"gamma_host"`
	ClobHost      string `toml:"clob_host"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
	MaxRetries    int    `toml:"max_retries"`
	RetryBaseMs   int    `toml:"retry_base_ms"`
}

// PipelineConfig holds collection and analysis scheduling parameters.
type PipelineConfig struct {
	MarketIntervalMinutes    int    `toml:"market_interval_minutes"`
	OrderbookIntervalMinutes int    `toml:"orderbook_interval_minutes"`
	TradeIntervalMinutes     int    `toml:"trade_interval_minutes"`
	TradeLookbackMinutes     int    `toml:"trade_lookback_minutes"`
	AnalysisIntervalMinutes  int    `toml:"analysis_interval_minutes"`
	OrderbookConcurrency     int    `toml:"orderbook_concurrency"`
	RetentionDays            int    `toml:"retention_days"`
	MaxMarkets               int    `toml:"max_markets"`
	ArchiveCron              string `toml:"archive_cron"`
}

// AnalysisConfig holds every detection threshold. Thresholds tune the
// detectors; they never select different code paths.
type AnalysisConfig struct {
	SpikeRatioThreshold float64 `toml:"spike_ratio_threshold"`
	FlashSpikeRatio     float64 `toml:"flash_spike_ratio"`
	MinBaselineTrades   int     `toml:"min_baseline_trades"`
	SpreadAlertPct      float64 `toml:"spread_alert_pct"`
	DepthDropPct        float64 `toml:"depth_drop_pct"`
	SpreadWidenRatio    float64 `toml:"spread_widen_ratio"`
	WhaleMultiple       float64 `toml:"whale_multiple"`
	PriceMovePct        float64 `toml:"price_move_pct"`
	MinArbitrageProfit  float64 `toml:"min_arbitrage_profit"`
	FeePerTrade         float64 `toml:"fee_per_trade"`
	MinLiquidity        float64 `toml:"min_liquidity"`
	ArbPriceDelta       float64 `toml:"arb_price_delta"`
	BaselineLookbackDays int    `toml:"baseline_lookback_days"`
	MMWindowMinutes      int    `toml:"mm_window_minutes"`
	// OrderbookFreshnessSeconds bounds the orderbook-first price policy:
	// older snapshots fall back to listed market prices. The production
	// value is still under discussion; 900 mirrors the collector cadence.
	OrderbookFreshnessSeconds int `toml:"orderbook_freshness_seconds"`
}

// ServerConfig holds the HTTP API server configuration.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit caps API requests per client per window. Zero disables
	// rate limiting. The limiter needs Redis.
	RateLimit              int `toml:"rate_limit"`
	RateLimitWindowSeconds int `toml:"rate_limit_window_seconds"`
}

// NotifyConfig holds alert notification settings.
type NotifyConfig struct {
	TelegramBotToken  string `toml:"telegram_bot_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	MinSeverity       string `toml:"min_severity"`
}

// Defaults returns the built-in defaults applied before the TOML file.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "polypulse",
			User:         "polypulse",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Polymarket: PolymarketConfig{
			GammaHost:   "https://gamma-api.polymarket.com",
			ClobHost:    "https://clob.polymarket.com",
			MaxRetries:  3,
			RetryBaseMs: 1000,
		},
		Pipeline: PipelineConfig{
			MarketIntervalMinutes:    15,
			OrderbookIntervalMinutes: 15,
			TradeIntervalMinutes:     5,
			TradeLookbackMinutes:     30,
			AnalysisIntervalMinutes:  15,
			OrderbookConcurrency:     3,
			RetentionDays:            30,
			MaxMarkets:               200,
			ArchiveCron:              "10 0 * * *",
		},
		Analysis: AnalysisConfig{
			SpikeRatioThreshold:       3.0,
			FlashSpikeRatio:           5.0,
			MinBaselineTrades:         10,
			SpreadAlertPct:            0.05,
			DepthDropPct:              0.5,
			SpreadWidenRatio:          1.5,
			WhaleMultiple:             5.0,
			PriceMovePct:              0.05,
			MinArbitrageProfit:        0.02,
			FeePerTrade:               0.01,
			MinLiquidity:              1000,
			ArbPriceDelta:             0.02,
			BaselineLookbackDays:      7,
			MMWindowMinutes:           30,
			OrderbookFreshnessSeconds: 900,
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Server: ServerConfig{
			Port:                   8080,
			RateLimitWindowSeconds: 60,
		},
		Notify: NotifyConfig{
			MinSeverity: "high",
		},
		Mode:     "all",
		LogLevel: "info",
	}
}

// Validate checks the configuration for values that would make the service
// misbehave rather than merely perform differently.
func (c *Config) Validate() error {
	var problems []string

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "") {
		problems = append(problems, "postgres: dsn or host+database required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server: invalid port %d", c.Server.Port))
	}
	if c.Analysis.SpikeRatioThreshold <= 0 {
		problems = append(problems, "analysis: spike_ratio_threshold must be positive")
	}
	if c.Analysis.SpreadAlertPct <= 0 || c.Analysis.SpreadAlertPct >= 1 {
		problems = append(problems, "analysis: spread_alert_pct must be in (0,1)")
	}
	if c.Analysis.DepthDropPct <= 0 || c.Analysis.DepthDropPct >= 1 {
		problems = append(problems, "analysis: depth_drop_pct must be in (0,1)")
	}
	if c.Analysis.MinArbitrageProfit < 0 || c.Analysis.FeePerTrade < 0 {
		problems = append(problems, "analysis: profit and fee thresholds must be non-negative")
	}
	if c.Analysis.BaselineLookbackDays <= 0 {
		problems = append(problems, "analysis: baseline_lookback_days must be positive")
	}
	if c.Analysis.OrderbookFreshnessSeconds <= 0 {
		problems = append(problems, "analysis: orderbook_freshness_seconds must be positive")
	}
	if c.Pipeline.AnalysisIntervalMinutes <= 0 {
		problems = append(problems, "pipeline: analysis_interval_minutes must be positive")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		problems = append(problems, "s3: bucket required when enabled")
	}
	switch strings.ToLower(c.Mode) {
	case "all", "pipeline", "server":
	default:
		problems = append(problems, fmt.Sprintf("mode: unsupported mode %q", c.Mode))
	}
	switch strings.ToLower(c.Notify.MinSeverity) {
	case "info", "low", "medium", "high", "critical":
	default:
		problems = append(problems, fmt.Sprintf("notify: unknown min_severity %q", c.Notify.MinSeverity))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RateLimitWindow returns the API rate-limit window as a duration.
func (s ServerConfig) RateLimitWindow() time.Duration {
	return time.Duration(s.RateLimitWindowSeconds) * time.Second
}

// OrderbookFreshness returns the freshness cutoff as a duration.
func (a AnalysisConfig) OrderbookFreshness() time.Duration {
	return time.Duration(a.OrderbookFreshnessSeconds) * time.Second
}

// MMWindow returns the market-maker scoring window as a duration.
func (a AnalysisConfig) MMWindow() time.Duration {
	return time.Duration(a.MMWindowMinutes) * time.Minute
}

// BaselineLookback returns the baseline window as a duration.
func (a AnalysisConfig) BaselineLookback() time.Duration {
	return time.Duration(a.BaselineLookbackDays) * 24 * time.Hour
}
