package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	ModePaper   = "paper"
	ModeSandbox = "sandbox"
	ModeLive    = "live"

	SourceMOEX    = "moex"
	SourceTinkoff = "tinkoff"
)

type Config struct {
	Broker   BrokerConfig    `yaml:"broker"`
	Market   MarketConfig    `yaml:"market"`
	Trading  TradingConfig   `yaml:"trading"`
	Accounts []AccountConfig `yaml:"accounts"`
	Telegram TelegramConfig  `yaml:"telegram"`
	Web      WebConfig       `yaml:"web"`
	Database DatabaseConfig  `yaml:"database"`
	Logging  LoggingConfig   `yaml:"logging"`
}

type BrokerConfig struct {
	Mode      string `yaml:"mode"` // paper, sandbox or live
	Token     string `yaml:"token"`
	AccountID string `yaml:"account_id"`
}

type MarketConfig struct {
	Source            string   `yaml:"source"` // moex or tinkoff
	Universe          []string `yaml:"universe"`
	TopN              int      `yaml:"top_n"`
	CandleConcurrency int      `yaml:"candle_concurrency"`
	// SessionOnly skips cycles outside the exchange main session.
	SessionOnly bool   `yaml:"session_only"`
	Timezone    string `yaml:"timezone"`
}

type TradingConfig struct {
	Interval          string  `yaml:"interval"`
	MinTradingBalance float64 `yaml:"min_trading_balance"`

	// exit policy
	RoundTripCost float64 `yaml:"round_trip_cost"`
	TrailBase     float64 `yaml:"trail_base"`

	// opportunity ranking and sizing
	MinConfidence float64 `yaml:"min_confidence"`
	MinScore      float64 `yaml:"min_score"`
	MaxCandidates int     `yaml:"max_candidates"`
	MaxPerTrade   float64 `yaml:"max_per_trade"`
	MinInvestment float64 `yaml:"min_investment"`
	CostBuffer    float64 `yaml:"cost_buffer"`
}

// AccountConfig describes an account created at onboarding.
type AccountConfig struct {
	ID             string  `yaml:"id"`
	InitialBalance float64 `yaml:"initial_balance"`
	StrategyID     string  `yaml:"strategy_id"`
	RiskLevel      float64 `yaml:"risk_level"`
	TargetProfit   float64 `yaml:"target_profit"`
	MaxDailyLoss   float64 `yaml:"max_daily_loss"`
	Active         bool    `yaml:"active"`
}

type TelegramConfig struct {
	Enabled           bool   `yaml:"enabled"`
	BotToken          string `yaml:"bot_token"`
	ChatID            int64  `yaml:"chat_id"`
	MessagesPerMinute int    `yaml:"messages_per_minute"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
	// Ephemeral keeps balances and positions in memory for paper runs.
	// Settings and the cycle journal still go to Path.
	Ephemeral bool `yaml:"ephemeral"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// secrets are read from AUTOPILOT_* environment variables and override the file.
type secrets struct {
	BrokerToken     string `envconfig:"BROKER_TOKEN"`
	BrokerAccountID string `envconfig:"BROKER_ACCOUNT_ID"`
	TelegramToken   string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID  int64  `envconfig:"TELEGRAM_CHAT_ID"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML, applies the environment overlay and defaults, and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var s secrets
	if err := envconfig.Process("autopilot", &s); err != nil {
		return err
	}
	if s.BrokerToken != "" {
		cfg.Broker.Token = s.BrokerToken
	}
	if s.BrokerAccountID != "" {
		cfg.Broker.AccountID = s.BrokerAccountID
	}
	if s.TelegramToken != "" {
		cfg.Telegram.BotToken = s.TelegramToken
	}
	if s.TelegramChatID != 0 {
		cfg.Telegram.ChatID = s.TelegramChatID
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Broker.Mode == "" {
		cfg.Broker.Mode = ModePaper
	}
	if cfg.Market.Source == "" {
		cfg.Market.Source = SourceMOEX
	}
	if cfg.Market.TopN == 0 {
		cfg.Market.TopN = 30
	}
	if cfg.Market.CandleConcurrency == 0 {
		cfg.Market.CandleConcurrency = 10
	}
	if cfg.Market.Timezone == "" {
		cfg.Market.Timezone = "Europe/Moscow"
	}
	if cfg.Trading.Interval == "" {
		cfg.Trading.Interval = "30s"
	}
	if cfg.Trading.MinTradingBalance == 0 {
		cfg.Trading.MinTradingBalance = 10
	}
	if cfg.Trading.RoundTripCost == 0 {
		cfg.Trading.RoundTripCost = 0.003
	}
	if cfg.Trading.TrailBase == 0 {
		cfg.Trading.TrailBase = 0.03
	}
	if cfg.Trading.MinConfidence == 0 {
		cfg.Trading.MinConfidence = 0.5
	}
	if cfg.Trading.MinScore == 0 {
		cfg.Trading.MinScore = 4.5
	}
	if cfg.Trading.MaxCandidates == 0 {
		cfg.Trading.MaxCandidates = 3
	}
	if cfg.Trading.MaxPerTrade == 0 {
		cfg.Trading.MaxPerTrade = 1000
	}
	if cfg.Trading.MinInvestment == 0 {
		cfg.Trading.MinInvestment = 10
	}
	if cfg.Trading.CostBuffer == 0 {
		cfg.Trading.CostBuffer = 0.005
	}
	for i := range cfg.Accounts {
		if cfg.Accounts[i].StrategyID == "" {
			cfg.Accounts[i].StrategyID = "balanced"
		}
		if cfg.Accounts[i].RiskLevel == 0 {
			cfg.Accounts[i].RiskLevel = 5
		}
	}
	if cfg.Telegram.MessagesPerMinute == 0 {
		cfg.Telegram.MessagesPerMinute = 20
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/autopilot.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	switch c.Broker.Mode {
	case ModePaper:
	case ModeSandbox, ModeLive:
		if c.Broker.Token == "" {
			return fmt.Errorf("broker.token is required in %s mode", c.Broker.Mode)
		}
	default:
		return fmt.Errorf("unknown broker.mode %q", c.Broker.Mode)
	}

	switch c.Market.Source {
	case SourceMOEX:
	case SourceTinkoff:
		if c.Broker.Token == "" {
			return fmt.Errorf("broker.token is required for market.source %q", c.Market.Source)
		}
		if len(c.Market.Universe) == 0 {
			return fmt.Errorf("market.universe is required for market.source %q", c.Market.Source)
		}
	default:
		return fmt.Errorf("unknown market.source %q", c.Market.Source)
	}

	if c.Database.Ephemeral && c.Broker.Mode != ModePaper {
		return fmt.Errorf("database.ephemeral is only allowed in %s mode", ModePaper)
	}

	d, err := time.ParseDuration(c.Trading.Interval)
	if err != nil {
		return fmt.Errorf("invalid trading.interval %q: %w", c.Trading.Interval, err)
	}
	if d < time.Second {
		return fmt.Errorf("trading.interval must be at least 1s, got %s", d)
	}
	if c.Trading.MaxCandidates < 0 || c.Trading.MaxCandidates > 3 {
		return fmt.Errorf("trading.max_candidates must be between 0 and 3, got %d", c.Trading.MaxCandidates)
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("accounts[].id is required")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate account id %q", a.ID)
		}
		seen[a.ID] = true
		if a.InitialBalance < 0 {
			return fmt.Errorf("account %q: initial_balance must not be negative", a.ID)
		}
		if a.RiskLevel < 1 || a.RiskLevel > 10 {
			return fmt.Errorf("account %q: risk_level must be within 1..10", a.ID)
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

func (c *Config) IsPaper() bool {
	return c.Broker.Mode == ModePaper
}

func (c *Config) IsSandbox() bool {
	return c.Broker.Mode == ModeSandbox
}

func (c *Config) TradingInterval() time.Duration {
	d, _ := time.ParseDuration(c.Trading.Interval)
	return d
}

// Location is the exchange time zone used for session hours and the daily
// loss window. It falls back to UTC when tzdata is missing.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Account(id string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return AccountConfig{}, false
}
