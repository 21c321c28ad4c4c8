package ops

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/yanun0323/errors"

	"main/internal/indicator"
	"main/internal/strategy"
	"main/internal/trader"
	"main/pkg/conn"
)

// Mode selects the executor variant a session runs with.
type Mode string

const (
	ModeLive   Mode = "live"
	ModePaper  Mode = "paper"
	ModeReplay Mode = "replay"
)

var ErrUnknownMode = errors.New("unknown execution mode")

// FileConfig mirrors the on-disk config layout (YAML or JSON, viper decides
// by extension).
type FileConfig struct {
	Mode      string   `mapstructure:"mode"`
	SessionID string   `mapstructure:"session_id"`
	Symbols   []string `mapstructure:"symbols"`

	Exchange ExchangeConfig `mapstructure:"exchange"`
	Paper    PaperConfig    `mapstructure:"paper"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Risk     RiskConfig     `mapstructure:"risk"`

	ReconcileIntervalSeconds int `mapstructure:"reconcile_interval_seconds"`
	BarIntervalSeconds       int `mapstructure:"bar_interval_seconds"`
	IndicatorLookbackBars    int `mapstructure:"indicator_lookback_bars"`

	Strategies []StrategyConfig `mapstructure:"strategies"`
}

// ExchangeConfig holds live venue credentials.
type ExchangeConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	FeeRate     float64 `mapstructure:"fee_rate"`
	SlippageBps float64 `mapstructure:"slippage_bps"`
}

// PostgresConfig describes the event store connection.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// RiskConfig are the pre-submission limits. Zero disables a check.
type RiskConfig struct {
	MaxOrderQuantity float64 `mapstructure:"max_order_quantity"`
	MaxOrderNotional float64 `mapstructure:"max_order_notional"`
	MaxPosition      float64 `mapstructure:"max_position"`
}

// StrategyConfig describes one pump strategy with its condition groups.
type StrategyConfig struct {
	ID                  string      `mapstructure:"id"`
	Detect              GroupConfig `mapstructure:"detect"`
	Cancel              GroupConfig `mapstructure:"cancel"`
	Confirm             GroupConfig `mapstructure:"confirm"`
	TakeProfit          GroupConfig `mapstructure:"take_profit"`
	Emergency           GroupConfig `mapstructure:"emergency"`
	Quantity            float64     `mapstructure:"quantity"`
	EntryTimeoutSeconds int         `mapstructure:"entry_timeout_seconds"`
	CooldownSeconds     int         `mapstructure:"cooldown_seconds"`
}

// GroupConfig describes one condition group.
type GroupConfig struct {
	Logic      string            `mapstructure:"logic"`
	Conditions []ConditionConfig `mapstructure:"conditions"`
}

// ConditionConfig describes one threshold check.
type ConditionConfig struct {
	Indicator string  `mapstructure:"indicator"`
	Operator  string  `mapstructure:"operator"`
	Threshold float64 `mapstructure:"threshold"`
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	Mode      Mode
	SessionID string
	Symbols   []string

	Exchange trader.LiveConfig
	Paper    trader.PaperConfig
	Postgres conn.Option
	Risk     trader.Limits

	ReconcileInterval time.Duration
	Feed              indicator.FeedConfig

	Strategies []strategy.Strategy
}

// Load reads and resolves a config file.
func Load(path string) (Loaded, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Loaded{}, errors.Wrap(err, "read config").With("path", path)
	}

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "decode config").With("path", path)
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	mode := Mode(cfg.Mode)
	switch mode {
	case ModeLive, ModePaper, ModeReplay:
	default:
		return Loaded{}, errors.Errorf("%s: %q", ErrUnknownMode, cfg.Mode)
	}

	if cfg.SessionID == "" {
		return Loaded{}, errors.New("session_id is empty")
	}
	if len(cfg.Symbols) == 0 {
		return Loaded{}, errors.New("no symbols configured")
	}
	if mode == ModeLive && cfg.Exchange.BaseURL == "" {
		return Loaded{}, errors.New("live mode requires exchange.base_url")
	}

	strategies := make([]strategy.Strategy, 0, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		s := strategy.Strategy{
			ID:           sc.ID,
			Detect:       toGroup(sc.Detect),
			Cancel:       toGroup(sc.Cancel),
			Confirm:      toGroup(sc.Confirm),
			TakeProfit:   toGroup(sc.TakeProfit),
			Emergency:    toGroup(sc.Emergency),
			Quantity:     decimal.NewFromFloat(sc.Quantity),
			EntryTimeout: time.Duration(sc.EntryTimeoutSeconds) * time.Second,
			Cooldown:     time.Duration(sc.CooldownSeconds) * time.Second,
		}
		if err := s.Validate(); err != nil {
			return Loaded{}, errors.Wrap(err, "validate strategy")
		}
		strategies = append(strategies, s)
	}
	if len(strategies) == 0 {
		return Loaded{}, errors.New("no strategies configured")
	}

	return Loaded{
		Mode:      mode,
		SessionID: cfg.SessionID,
		Symbols:   cfg.Symbols,
		Exchange: trader.LiveConfig{
			BaseURL:   cfg.Exchange.BaseURL,
			APIKey:    cfg.Exchange.APIKey,
			SecretKey: cfg.Exchange.SecretKey,
			Timeout:   time.Duration(cfg.Exchange.TimeoutMs) * time.Millisecond,
		},
		Paper: trader.PaperConfig{
			FeeRate:     decimal.NewFromFloat(cfg.Paper.FeeRate),
			SlippageBps: decimal.NewFromFloat(cfg.Paper.SlippageBps),
		},
		Postgres: conn.Option{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		},
		Risk: trader.Limits{
			MaxOrderQuantity: decimal.NewFromFloat(cfg.Risk.MaxOrderQuantity),
			MaxOrderNotional: decimal.NewFromFloat(cfg.Risk.MaxOrderNotional),
			MaxPosition:      decimal.NewFromFloat(cfg.Risk.MaxPosition),
		},
		ReconcileInterval: time.Duration(cfg.ReconcileIntervalSeconds) * time.Second,
		Feed: indicator.FeedConfig{
			Interval: time.Duration(cfg.BarIntervalSeconds) * time.Second,
			Lookback: cfg.IndicatorLookbackBars,
		},
		Strategies: strategies,
	}, nil
}

func toGroup(cfg GroupConfig) strategy.Group {
	conditions := make([]strategy.Condition, 0, len(cfg.Conditions))
	for _, c := range cfg.Conditions {
		conditions = append(conditions, strategy.Condition{
			Indicator: c.Indicator,
			Op:        strategy.CompareOp(c.Operator),
			Threshold: c.Threshold,
		})
	}
	logic := strategy.Logic(cfg.Logic)
	if logic == "" && len(conditions) > 0 {
		logic = strategy.LogicAnd
	}
	return strategy.Group{Logic: logic, Conditions: conditions}
}
