// Package config defines the top-level configuration for the grid bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GRIDBOT_* environment variables.
type Config struct {
	Bybit      BybitConfig      `toml:"bybit"`
	Trading    TradingConfig    `toml:"trading"`
	Grid       GridConfig       `toml:"grid"`
	DCA        DCAConfig        `toml:"dca"`
	Risk       RiskConfig       `toml:"risk"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Backtest   BacktestConfig   `toml:"backtest"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	LogFormat  string           `toml:"log_format"`
}

// BybitConfig holds exchange API endpoints and credentials.
type BybitConfig struct {
	ApiKey         string   `toml:"api_key"`
	ApiSecret      string   `toml:"api_secret"`
	BaseURL        string   `toml:"base_url"`
	WsPrivateURL   string   `toml:"ws_private_url"`
	DemoMode       bool     `toml:"demo_mode"`
	RecvWindowMs   int      `toml:"recv_window_ms"`
	RequestTimeout duration `toml:"request_timeout"`
	MaxRetries     int      `toml:"max_retries"`
	RetryBackoff   duration `toml:"retry_backoff"`
	RequestsPerSec int      `toml:"requests_per_sec"`
}

// TradingConfig holds the instrument and account parameters.
type TradingConfig struct {
	Symbol         string  `toml:"symbol"`
	Leverage       int     `toml:"leverage"`
	InitialCapital float64 `toml:"initial_capital"`
}

// GridConfig holds grid ladder parameters. Explicit bounds win over
// range_percent; when bounds are zero the band is resolved symmetrically
// around the first live price.
type GridConfig struct {
	LowerPrice          float64 `toml:"lower_price"`
	UpperPrice          float64 `toml:"upper_price"`
	RangePercent        float64 `toml:"range_percent"`
	Levels              int     `toml:"levels"`
	OrderSize           float64 `toml:"order_size"`
	ProfitOffsetPercent float64 `toml:"profit_offset_percent"`
	MaxPlaceRetries     int     `toml:"max_place_retries"`
}

// DCAConfig holds trend-following ladder parameters.
type DCAConfig struct {
	Enabled         bool    `toml:"enabled"`
	TriggerPercent  float64 `toml:"trigger_percent"`
	OrderSize       float64 `toml:"order_size"`
	ScalingFactor   float64 `toml:"scaling_factor"`
	MaxOrders       int     `toml:"max_orders"`
	RecoveryPercent float64 `toml:"recovery_percent"`
}

// RiskConfig holds capital protection parameters.
type RiskConfig struct {
	KillSwitchEnabled    bool    `toml:"kill_switch_enabled"`
	MaxDrawdownPercent   float64 `toml:"max_drawdown_percent"`
	BreakevenEnabled     bool    `toml:"breakeven_enabled"`
	BreakevenBufferPct   float64 `toml:"breakeven_buffer_percent"`
	PartialProfitEnabled bool    `toml:"partial_profit_enabled"`
	PartialProfitPercent float64 `toml:"partial_profit_percent"`
	PartialProfitMult    float64 `toml:"partial_profit_multiple"`
}

// SupervisorConfig holds health-check and restart policy knobs.
type SupervisorConfig struct {
	TickInterval        duration `toml:"tick_interval"`
	CheckInterval       duration `toml:"check_interval"`
	FailureThreshold    int      `toml:"failure_threshold"`
	MaxRestartsPerHour  int      `toml:"max_restarts_per_hour"`
	RestartDelay        duration `toml:"restart_delay"`
	BackoffBase         duration `toml:"backoff_base"`
	BackoffMax          duration `toml:"backoff_max"`
	CheckpointEveryTick bool     `toml:"checkpoint_every_tick"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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
	RetentionDays int    `toml:"retention_days"`
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

// S3Config holds S3-compatible object storage parameters for archival.
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

// ServerConfig holds HTTP status server parameters. An empty APIKey
// disables authentication.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// BacktestConfig holds parameters for the statistical trade sampler.
type BacktestConfig struct {
	Trades         int     `toml:"trades"`
	WinRate        float64 `toml:"win_rate"`
	ProfitPercent  float64 `toml:"profit_percent"`
	LossPercent    float64 `toml:"loss_percent"`
	InitialCapital float64 `toml:"initial_capital"`
	Seed           int64   `toml:"seed"`
	ReportPath     string  `toml:"report_path"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Bybit: BybitConfig{
			BaseURL:        "https://api.bybit.com",
			WsPrivateURL:   "wss://stream.bybit.com/v5/private",
			DemoMode:       true,
			RecvWindowMs:   5000,
			RequestTimeout: duration{10 * time.Second},
			MaxRetries:     3,
			RetryBackoff:   duration{500 * time.Millisecond},
			RequestsPerSec: 8,
		},
		Trading: TradingConfig{
			Symbol:         "BTCUSDT",
			Leverage:       10,
			InitialCapital: 1000,
		},
		Grid: GridConfig{
			RangePercent:        3.0,
			Levels:              20,
			OrderSize:           0.01,
			ProfitOffsetPercent: 0.5,
			MaxPlaceRetries:     3,
		},
		DCA: DCAConfig{
			Enabled:         true,
			TriggerPercent:  2.0,
			OrderSize:       0.02,
			ScalingFactor:   1.5,
			MaxOrders:       5,
			RecoveryPercent: 1.5,
		},
		Risk: RiskConfig{
			KillSwitchEnabled:    true,
			MaxDrawdownPercent:   20.0,
			BreakevenEnabled:     true,
			BreakevenBufferPct:   0.2,
			PartialProfitEnabled: true,
			PartialProfitPercent: 50.0,
			PartialProfitMult:    2.0,
		},
		Supervisor: SupervisorConfig{
			TickInterval:        duration{5 * time.Second},
			CheckInterval:       duration{30 * time.Second},
			FailureThreshold:    5,
			MaxRestartsPerHour:  10,
			RestartDelay:        duration{5 * time.Second},
			BackoffBase:         duration{10 * time.Second},
			BackoffMax:          duration{5 * time.Minute},
			CheckpointEveryTick: true,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "gridbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			RetentionDays: 30,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "gridbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"kill_switch", "order_filled", "restart_suppressed", "bot_restarted", "bot_stopped"},
		},
		Backtest: BacktestConfig{
			Trades:         1000,
			WinRate:        0.55,
			ProfitPercent:  1.0,
			LossPercent:    1.0,
			InitialCapital: 1000,
		},
		Mode:      "trade",
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":    true,
	"backtest": true,
	"status":   true,
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

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, backtest, status)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: json, text)", c.LogFormat))
	}

	// Bybit credentials are only needed when actually trading.
	if c.Mode == "trade" {
		if c.Bybit.ApiKey == "" || c.Bybit.ApiSecret == "" {
			errs = append(errs, "bybit: api_key and api_secret are required for mode trade")
		}
	}
	if c.Bybit.BaseURL == "" {
		errs = append(errs, "bybit: base_url must not be empty")
	}
	if c.Bybit.RecvWindowMs <= 0 {
		errs = append(errs, "bybit: recv_window_ms must be > 0")
	}
	if c.Bybit.MaxRetries < 0 {
		errs = append(errs, "bybit: max_retries must be >= 0")
	}
	if c.Bybit.RequestsPerSec < 1 {
		errs = append(errs, "bybit: requests_per_sec must be >= 1")
	}

	// Trading
	if c.Trading.Symbol == "" {
		errs = append(errs, "trading: symbol must not be empty")
	}
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 100 {
		errs = append(errs, fmt.Sprintf("trading: leverage must be 1-100, got %d", c.Trading.Leverage))
	}
	if c.Trading.InitialCapital <= 0 {
		errs = append(errs, "trading: initial_capital must be > 0")
	}

	// Grid
	if c.Grid.Levels < 2 {
		errs = append(errs, fmt.Sprintf("grid: levels must be >= 2, got %d", c.Grid.Levels))
	}
	if c.Grid.OrderSize <= 0 {
		errs = append(errs, "grid: order_size must be > 0")
	}
	hasBounds := c.Grid.LowerPrice > 0 || c.Grid.UpperPrice > 0
	if hasBounds {
		if c.Grid.LowerPrice <= 0 || c.Grid.UpperPrice <= 0 {
			errs = append(errs, "grid: lower_price and upper_price must both be set when using explicit bounds")
		} else if c.Grid.LowerPrice >= c.Grid.UpperPrice {
			errs = append(errs, fmt.Sprintf("grid: lower_price %.2f must be below upper_price %.2f", c.Grid.LowerPrice, c.Grid.UpperPrice))
		}
	} else if c.Grid.RangePercent <= 0 || c.Grid.RangePercent >= 100 {
		errs = append(errs, fmt.Sprintf("grid: range_percent must be in (0, 100), got %.2f", c.Grid.RangePercent))
	}
	if c.Grid.ProfitOffsetPercent <= 0 {
		errs = append(errs, "grid: profit_offset_percent must be > 0")
	}
	if c.Grid.MaxPlaceRetries < 0 {
		errs = append(errs, "grid: max_place_retries must be >= 0")
	}

	// DCA
	if c.DCA.Enabled {
		if c.DCA.TriggerPercent <= 0 {
			errs = append(errs, "dca: trigger_percent must be > 0 when enabled")
		}
		if c.DCA.OrderSize <= 0 {
			errs = append(errs, "dca: order_size must be > 0 when enabled")
		}
		if c.DCA.ScalingFactor < 1 {
			errs = append(errs, fmt.Sprintf("dca: scaling_factor must be >= 1, got %.2f", c.DCA.ScalingFactor))
		}
		if c.DCA.MaxOrders < 1 {
			errs = append(errs, "dca: max_orders must be >= 1 when enabled")
		}
	}

	// Risk
	if c.Risk.KillSwitchEnabled {
		if c.Risk.MaxDrawdownPercent <= 0 || c.Risk.MaxDrawdownPercent >= 100 {
			errs = append(errs, fmt.Sprintf("risk: max_drawdown_percent must be in (0, 100), got %.2f", c.Risk.MaxDrawdownPercent))
		}
	}
	if c.Risk.PartialProfitEnabled {
		if c.Risk.PartialProfitPercent <= 0 || c.Risk.PartialProfitPercent > 100 {
			errs = append(errs, fmt.Sprintf("risk: partial_profit_percent must be in (0, 100], got %.2f", c.Risk.PartialProfitPercent))
		}
		if c.Risk.PartialProfitMult <= 1 {
			errs = append(errs, "risk: partial_profit_multiple must be > 1")
		}
	}

	// Supervisor
	if c.Supervisor.TickInterval.Duration <= 0 {
		errs = append(errs, "supervisor: tick_interval must be > 0")
	}
	if c.Supervisor.CheckInterval.Duration <= 0 {
		errs = append(errs, "supervisor: check_interval must be > 0")
	}
	if c.Supervisor.FailureThreshold < 1 {
		errs = append(errs, "supervisor: failure_threshold must be >= 1")
	}
	if c.Supervisor.MaxRestartsPerHour < 1 {
		errs = append(errs, "supervisor: max_restarts_per_hour must be >= 1")
	}
	if c.Supervisor.BackoffBase.Duration <= 0 {
		errs = append(errs, "supervisor: backoff_base must be > 0")
	}
	if c.Supervisor.BackoffMax.Duration < c.Supervisor.BackoffBase.Duration {
		errs = append(errs, "supervisor: backoff_max must not be below backoff_base")
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Backtest
	if c.Mode == "backtest" {
		if c.Backtest.Trades < 1 {
			errs = append(errs, "backtest: trades must be >= 1")
		}
		if c.Backtest.WinRate < 0 || c.Backtest.WinRate > 1 {
			errs = append(errs, fmt.Sprintf("backtest: win_rate must be in [0, 1], got %.2f", c.Backtest.WinRate))
		}
		if c.Backtest.ProfitPercent <= 0 || c.Backtest.LossPercent <= 0 {
			errs = append(errs, "backtest: profit_percent and loss_percent must be > 0")
		}
		if c.Backtest.InitialCapital <= 0 {
			errs = append(errs, "backtest: initial_capital must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
