package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"options-harvester/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Terminal TerminalConfig `mapstructure:"terminal"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Universe UniverseConfig `mapstructure:"universe"`
	State    StateConfig    `mapstructure:"state"`
	Greeks   GreeksConfig   `mapstructure:"greeks"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// TerminalConfig covers connectivity to the terminal-hosted data gateway.
type TerminalConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
	ConnectBackoff time.Duration `mapstructure:"connect_backoff"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// QuotaConfig bounds provider consumption.
type QuotaConfig struct {
	DailyLimit   int64  `mapstructure:"daily_limit"`
	MonthlyLimit int64  `mapstructure:"monthly_limit"`
	LedgerPath   string `mapstructure:"ledger_path"`
	Policy       string `mapstructure:"policy"` // abort | skip
}

// FetchConfig governs the acquisition loop.
type FetchConfig struct {
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	TargetDelay        time.Duration `mapstructure:"target_delay"`
	BatchSize          int           `mapstructure:"batch_size"`
	BatchDelay         time.Duration `mapstructure:"batch_delay"`
	CheckpointInterval int           `mapstructure:"checkpoint_interval"`
	HistoryDays        int           `mapstructure:"history_days"`
}

// UniverseConfig defines the acquisition universe.
type UniverseConfig struct {
	IndexUnderlying string   `mapstructure:"index_underlying"`
	Constituents    []string `mapstructure:"constituents"`
	TopN            int      `mapstructure:"top_n"`
	MaxDaysToExpiry int      `mapstructure:"max_days_to_expiry"`
	StrikesAbove    int      `mapstructure:"strikes_above"`
	StrikesBelow    int      `mapstructure:"strikes_below"`
	ReferencePrice  float64  `mapstructure:"reference_price"`
	MarketQualifier string   `mapstructure:"market_qualifier"`
	EquitySnapshots bool     `mapstructure:"equity_snapshots"`
}

// StateConfig locates session and quota state on disk.
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// GreeksConfig controls the local Black-Scholes fallback.
type GreeksConfig struct {
	FallbackEnabled bool    `mapstructure:"fallback_enabled"`
	RiskFreeRate    float64 `mapstructure:"risk_free_rate"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows          int     `mapstructure:"max_rows"`
	SpreadCeilingPct float64 `mapstructure:"spread_ceiling_pct"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OPTHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "options-harvester")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("terminal.host", "localhost")
	v.SetDefault("terminal.port", 8194)
	v.SetDefault("terminal.request_timeout", "30s")
	v.SetDefault("terminal.connect_retries", 3)
	v.SetDefault("terminal.connect_backoff", "5s")
	v.SetDefault("terminal.user_agent", "options-harvester/1.0")

	v.SetDefault("quota.daily_limit", int64(50000))
	v.SetDefault("quota.monthly_limit", int64(500000))
	v.SetDefault("quota.ledger_path", "state/quota_ledger.json")
	v.SetDefault("quota.policy", "skip")

	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.retry_delay", "5s")
	v.SetDefault("fetch.target_delay", "1s")
	v.SetDefault("fetch.batch_size", 20)
	v.SetDefault("fetch.batch_delay", "1s")
	v.SetDefault("fetch.checkpoint_interval", 5)
	v.SetDefault("fetch.history_days", 60)

	v.SetDefault("universe.index_underlying", "QQQ")
	v.SetDefault("universe.top_n", 0)
	v.SetDefault("universe.max_days_to_expiry", 60)
	v.SetDefault("universe.strikes_above", 20)
	v.SetDefault("universe.strikes_below", 20)
	v.SetDefault("universe.reference_price", 480.0)
	v.SetDefault("universe.market_qualifier", "US")
	v.SetDefault("universe.equity_snapshots", true)

	v.SetDefault("state.dir", "state")

	v.SetDefault("greeks.fallback_enabled", true)
	v.SetDefault("greeks.risk_free_rate", 0.05)

	v.SetDefault("export.max_rows", 500000)
	v.SetDefault("export.spread_ceiling_pct", 50.0)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Quota.DailyLimit <= 0 {
		return fmt.Errorf("quota.daily_limit must be greater than zero")
	}
	if c.Quota.MonthlyLimit < c.Quota.DailyLimit {
		return fmt.Errorf("quota.monthly_limit cannot be below quota.daily_limit")
	}
	if c.Quota.Policy != "abort" && c.Quota.Policy != "skip" {
		return fmt.Errorf("quota.policy must be one of abort, skip")
	}
	if c.Fetch.MaxRetries <= 0 {
		return fmt.Errorf("fetch.max_retries must be greater than zero")
	}
	if c.Fetch.BatchSize <= 0 {
		return fmt.Errorf("fetch.batch_size must be greater than zero")
	}
	if c.Universe.IndexUnderlying == "" {
		return fmt.Errorf("universe.index_underlying is required")
	}
	if c.Universe.ReferencePrice <= 0 {
		return fmt.Errorf("universe.reference_price must be greater than zero")
	}
	if c.Export.SpreadCeilingPct <= 0 {
		return fmt.Errorf("export.spread_ceiling_pct must be greater than zero")
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	return nil
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}
