package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/internal/version"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// Config is the full agent configuration. It is loaded once at startup and
// treated as immutable afterwards.
type Config struct {
	// SchemaVersion declares the config schema this file was written against.
	SchemaVersion string `yaml:"schema_version" validate:"required"`

	LogLevel string `yaml:"log_level"`

	Server   ServerConfig   `yaml:"server"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Journal  JournalConfig  `yaml:"journal"`
	Engine   EngineConfig   `yaml:"engine"`
	Retry    RetryConfig    `yaml:"retry"`
	Risk     RiskConfig     `yaml:"risk"`

	Instruments []types.Instrument `yaml:"instruments" validate:"required,min=1,dive"`
	Indicators  IndicatorConfig    `yaml:"indicators"`
	Rules       []RuleConfig       `yaml:"rules" validate:"required,min=1,dive"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Address string `yaml:"address" validate:"required"`
}

// ExchangeConfig selects and configures the order venue.
type ExchangeConfig struct {
	// Paper routes orders to the in-process paper exchange instead of Binance.
	Paper     bool   `yaml:"paper"`
	ApiKey    string `yaml:"api_key" validate:"required_if=Paper false"`
	SecretKey string `yaml:"secret_key" validate:"required_if=Paper false"`
	Testnet   bool   `yaml:"testnet"`
	// FillPollInterval is how often submitted orders are polled for fills.
	FillPollInterval time.Duration `yaml:"fill_poll_interval"`
}

// JournalConfig configures the DuckDB order/fill journal.
type JournalConfig struct {
	// Path is the DuckDB database file. Empty means in-memory.
	Path string `yaml:"path"`
}

// EngineConfig holds scheduler and market data parameters.
type EngineConfig struct {
	// Interval is the bar interval streamed from the feed.
	Interval string `yaml:"interval" validate:"required,oneof=1s 1m 3m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d"`
	// CacheSize is the per-instrument bar cache capacity.
	CacheSize int `yaml:"cache_size" validate:"required,min=2"`
	// LaneBuffer is the per-instrument work queue depth.
	LaneBuffer int `yaml:"lane_buffer" validate:"min=1"`
	// Cooldown is the minimum gap between order submissions per instrument.
	Cooldown time.Duration `yaml:"cooldown"`
	// PnLHistorySize bounds the equity history ring on the status endpoint.
	PnLHistorySize int `yaml:"pnl_history_size" validate:"min=1"`
	// RecentFillsSize bounds the recent-fills ring kept for reporting.
	RecentFillsSize int `yaml:"recent_fills_size" validate:"min=1"`
}

// RetryConfig bounds the order submission retry loop.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" validate:"required,min=1"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// RiskConfig holds the limits enforced by the risk tracker.
type RiskConfig struct {
	// MaxPositionSize caps the absolute quantity per instrument.
	MaxPositionSize float64 `yaml:"max_position_size" validate:"required,gt=0"`
	// MaxOpenPositions caps the number of non-flat instruments.
	MaxOpenPositions int `yaml:"max_open_positions" validate:"required,min=1"`
	// MaxTotalNotional caps the summed notional across all positions.
	MaxTotalNotional float64 `yaml:"max_total_notional" validate:"required,gt=0"`
	// OrderQuantity is the fixed quantity per entry order, rounded to lot.
	OrderQuantity float64 `yaml:"order_quantity" validate:"required,gt=0"`
}

// IndicatorConfig holds the lookbacks for the computed indicators.
type IndicatorConfig struct {
	SMAPeriod int `yaml:"sma_period" validate:"min=1"`
	EMAPeriod int `yaml:"ema_period" validate:"min=1"`
	RSIPeriod int `yaml:"rsi_period" validate:"min=2"`
	ATRPeriod int `yaml:"atr_period" validate:"min=1"`
	ROCPeriod int `yaml:"roc_period" validate:"min=1"`
}

// RuleKind names a strategy rule variant.
type RuleKind string

const (
	RuleTrendRSIEntry RuleKind = "trend_rsi_entry"
	RuleRSIExit       RuleKind = "rsi_exit"
	RuleStopLoss      RuleKind = "stop_loss"
	RuleTakeProfit    RuleKind = "take_profit"
	RuleMACrossover   RuleKind = "ma_crossover"
)

// RuleConfig configures one strategy rule. Rules are evaluated in the order
// they appear; the first actionable decision wins.
type RuleConfig struct {
	Kind RuleKind `yaml:"kind" validate:"required,oneof=trend_rsi_entry rsi_exit stop_loss take_profit ma_crossover"`

	// Trend-RSI entry and RSI exit thresholds.
	BuyRSIThreshold  float64 `yaml:"buy_rsi_threshold"`
	SellRSIThreshold float64 `yaml:"sell_rsi_threshold"`

	// Stop-loss / take-profit distance as a fraction of entry price.
	Percent float64 `yaml:"percent"`
}

// Validate checks the config against its struct tags plus the cross-field
// rules the tags cannot express.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	for _, inst := range c.Instruments {
		if err := inst.Validate(); err != nil {
			return err
		}
	}

	for _, rule := range c.Rules {
		if err := rule.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks the per-kind parameter requirements of a rule.
func (r RuleConfig) Validate() error {
	switch r.Kind {
	case RuleTrendRSIEntry:
		if r.BuyRSIThreshold <= 0 || r.SellRSIThreshold <= 0 {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "rule %s requires buy and sell RSI thresholds", r.Kind)
		}

		if r.BuyRSIThreshold >= r.SellRSIThreshold {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "rule %s requires buy threshold below sell threshold", r.Kind)
		}
	case RuleRSIExit:
		if r.BuyRSIThreshold <= 0 || r.SellRSIThreshold <= 0 {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "rule %s requires buy and sell RSI thresholds", r.Kind)
		}
	case RuleStopLoss, RuleTakeProfit:
		if r.Percent <= 0 || r.Percent >= 1 {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "rule %s requires percent in (0, 1)", r.Kind)
		}
	case RuleMACrossover:
		// No parameters; uses the configured SMA and EMA lookbacks.
	default:
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown rule kind %q", r.Kind)
	}

	return nil
}

// DefaultConfig returns a config with every optional field at its default.
// Required fields (instruments, credentials) are left empty.
func DefaultConfig() Config {
	return Config{
		SchemaVersion: version.ConfigSchemaVersion,
		LogLevel:      "info",
		Server: ServerConfig{
			Address: ":8080",
		},
		Exchange: ExchangeConfig{
			Paper:            true,
			FillPollInterval: 2 * time.Second,
		},
		Engine: EngineConfig{
			Interval:       "1m",
			CacheSize:      500,
			LaneBuffer:     16,
			Cooldown:        5 * time.Minute,
			PnLHistorySize:  288,
			RecentFillsSize: 100,
		},
		Retry: RetryConfig{
			MaxAttempts:     4,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		Indicators: IndicatorConfig{
			SMAPeriod: 20,
			EMAPeriod: 9,
			RSIPeriod: 14,
			ATRPeriod: 14,
			ROCPeriod: 10,
		},
		Rules: []RuleConfig{
			{Kind: RuleStopLoss, Percent: 0.02},
			{Kind: RuleTakeProfit, Percent: 0.04},
			{Kind: RuleRSIExit, BuyRSIThreshold: 30, SellRSIThreshold: 70},
			{Kind: RuleTrendRSIEntry, BuyRSIThreshold: 30, SellRSIThreshold: 70},
		},
	}
}

// LoadConfig reads, defaults and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}

	return ParseConfig(data)
}

// ParseConfig parses and validates raw YAML config bytes. Fields absent from
// the document keep their DefaultConfig values.
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	if err := version.CheckConfigCompatibility(config.SchemaVersion); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Instrument returns the configured instrument for a symbol.
func (c *Config) Instrument(symbol string) (types.Instrument, error) {
	for _, inst := range c.Instruments {
		if inst.Symbol == symbol {
			return inst, nil
		}
	}

	return types.Instrument{}, errors.Newf(errors.ErrCodeUnknownInstrument, "instrument %s is not configured", symbol)
}
