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
// built-in defaults, applies GRIDBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known GRIDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Bybit ──
	setStr(&cfg.Bybit.ApiKey, "GRIDBOT_BYBIT_API_KEY")
	setStr(&cfg.Bybit.ApiSecret, "GRIDBOT_BYBIT_API_SECRET")
	setStr(&cfg.Bybit.BaseURL, "GRIDBOT_BYBIT_BASE_URL")
	setStr(&cfg.Bybit.WsPrivateURL, "GRIDBOT_BYBIT_WS_PRIVATE_URL")
	setBool(&cfg.Bybit.DemoMode, "GRIDBOT_BYBIT_DEMO_MODE")
	setInt(&cfg.Bybit.RecvWindowMs, "GRIDBOT_BYBIT_RECV_WINDOW_MS")
	setDuration(&cfg.Bybit.RequestTimeout, "GRIDBOT_BYBIT_REQUEST_TIMEOUT")
	setInt(&cfg.Bybit.MaxRetries, "GRIDBOT_BYBIT_MAX_RETRIES")
	setInt(&cfg.Bybit.RequestsPerSec, "GRIDBOT_BYBIT_REQUESTS_PER_SEC")

	// ── Trading ──
	setStr(&cfg.Trading.Symbol, "GRIDBOT_TRADING_SYMBOL")
	setInt(&cfg.Trading.Leverage, "GRIDBOT_TRADING_LEVERAGE")
	setFloat64(&cfg.Trading.InitialCapital, "GRIDBOT_TRADING_INITIAL_CAPITAL")

	// ── Grid ──
	setFloat64(&cfg.Grid.LowerPrice, "GRIDBOT_GRID_LOWER_PRICE")
	setFloat64(&cfg.Grid.UpperPrice, "GRIDBOT_GRID_UPPER_PRICE")
	setFloat64(&cfg.Grid.RangePercent, "GRIDBOT_GRID_RANGE_PERCENT")
	setInt(&cfg.Grid.Levels, "GRIDBOT_GRID_LEVELS")
	setFloat64(&cfg.Grid.OrderSize, "GRIDBOT_GRID_ORDER_SIZE")
	setFloat64(&cfg.Grid.ProfitOffsetPercent, "GRIDBOT_GRID_PROFIT_OFFSET_PERCENT")
	setInt(&cfg.Grid.MaxPlaceRetries, "GRIDBOT_GRID_MAX_PLACE_RETRIES")

	// ── DCA ──
	setBool(&cfg.DCA.Enabled, "GRIDBOT_DCA_ENABLED")
	setFloat64(&cfg.DCA.TriggerPercent, "GRIDBOT_DCA_TRIGGER_PERCENT")
	setFloat64(&cfg.DCA.OrderSize, "GRIDBOT_DCA_ORDER_SIZE")
	setFloat64(&cfg.DCA.ScalingFactor, "GRIDBOT_DCA_SCALING_FACTOR")
	setInt(&cfg.DCA.MaxOrders, "GRIDBOT_DCA_MAX_ORDERS")
	setFloat64(&cfg.DCA.RecoveryPercent, "GRIDBOT_DCA_RECOVERY_PERCENT")

	// ── Risk ──
	setBool(&cfg.Risk.KillSwitchEnabled, "GRIDBOT_RISK_KILL_SWITCH_ENABLED")
	setFloat64(&cfg.Risk.MaxDrawdownPercent, "GRIDBOT_RISK_MAX_DRAWDOWN_PERCENT")
	setBool(&cfg.Risk.BreakevenEnabled, "GRIDBOT_RISK_BREAKEVEN_ENABLED")
	setFloat64(&cfg.Risk.BreakevenBufferPct, "GRIDBOT_RISK_BREAKEVEN_BUFFER_PERCENT")
	setBool(&cfg.Risk.PartialProfitEnabled, "GRIDBOT_RISK_PARTIAL_PROFIT_ENABLED")
	setFloat64(&cfg.Risk.PartialProfitPercent, "GRIDBOT_RISK_PARTIAL_PROFIT_PERCENT")
	setFloat64(&cfg.Risk.PartialProfitMult, "GRIDBOT_RISK_PARTIAL_PROFIT_MULTIPLE")

	// ── Supervisor ──
	setDuration(&cfg.Supervisor.TickInterval, "GRIDBOT_SUPERVISOR_TICK_INTERVAL")
	setDuration(&cfg.Supervisor.CheckInterval, "GRIDBOT_SUPERVISOR_CHECK_INTERVAL")
	setInt(&cfg.Supervisor.FailureThreshold, "GRIDBOT_SUPERVISOR_FAILURE_THRESHOLD")
	setInt(&cfg.Supervisor.MaxRestartsPerHour, "GRIDBOT_SUPERVISOR_MAX_RESTARTS_PER_HOUR")
	setDuration(&cfg.Supervisor.RestartDelay, "GRIDBOT_SUPERVISOR_RESTART_DELAY")
	setDuration(&cfg.Supervisor.BackoffBase, "GRIDBOT_SUPERVISOR_BACKOFF_BASE")
	setDuration(&cfg.Supervisor.BackoffMax, "GRIDBOT_SUPERVISOR_BACKOFF_MAX")
	setBool(&cfg.Supervisor.CheckpointEveryTick, "GRIDBOT_SUPERVISOR_CHECKPOINT_EVERY_TICK")

	// ── Database ──
	setStr(&cfg.Database.DSN, "GRIDBOT_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "GRIDBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "GRIDBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "GRIDBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "GRIDBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "GRIDBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "GRIDBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "GRIDBOT_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "GRIDBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "GRIDBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "GRIDBOT_DATABASE_RUN_MIGRATIONS")
	setInt(&cfg.Database.RetentionDays, "GRIDBOT_DATABASE_RETENTION_DAYS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "GRIDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GRIDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GRIDBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GRIDBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GRIDBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GRIDBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "GRIDBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GRIDBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GRIDBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "GRIDBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GRIDBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GRIDBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GRIDBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GRIDBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GRIDBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GRIDBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "GRIDBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "GRIDBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GRIDBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GRIDBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GRIDBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GRIDBOT_NOTIFY_EVENTS")

	// ── Backtest ──
	setInt(&cfg.Backtest.Trades, "GRIDBOT_BACKTEST_TRADES")
	setFloat64(&cfg.Backtest.WinRate, "GRIDBOT_BACKTEST_WIN_RATE")
	setFloat64(&cfg.Backtest.ProfitPercent, "GRIDBOT_BACKTEST_PROFIT_PERCENT")
	setFloat64(&cfg.Backtest.LossPercent, "GRIDBOT_BACKTEST_LOSS_PERCENT")
	setFloat64(&cfg.Backtest.InitialCapital, "GRIDBOT_BACKTEST_INITIAL_CAPITAL")
	setInt64(&cfg.Backtest.Seed, "GRIDBOT_BACKTEST_SEED")
	setStr(&cfg.Backtest.ReportPath, "GRIDBOT_BACKTEST_REPORT_PATH")

	// ── Top-level ──
	setStr(&cfg.Mode, "GRIDBOT_MODE")
	setStr(&cfg.LogLevel, "GRIDBOT_LOG_LEVEL")
	setStr(&cfg.LogFormat, "GRIDBOT_LOG_FORMAT")
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

func setFloat64(dst *float64, key string) {
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
