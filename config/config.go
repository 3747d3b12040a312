// Package config loads the bot configuration: a YAML file decoded over
// defaults, a .env file, and secrets from the environment. Per-symbol
// overrides in the "symbols" section are merged onto the base strategy,
// slices and risk sections by ForSymbol.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the full bot configuration.
type Config struct {
	Mode     string   `yaml:"mode"` // paper | live
	Universe []string `yaml:"universe"`

	Log       Log       `yaml:"log"`
	Feed      Feed      `yaml:"feed"`
	Bars      Bars      `yaml:"bars"`
	Strategy  Strategy  `yaml:"strategy"`
	Slices    Slices    `yaml:"slices"`
	Risk      Risk      `yaml:"risk"`
	Execution Execution `yaml:"execution"`
	Storage   Storage   `yaml:"storage"`
	Redis     Redis     `yaml:"redis"`
	Metrics   Metrics   `yaml:"metrics"`
	Broker    Broker    `yaml:"broker"`
	Optimize  Optimize  `yaml:"optimize"`

	// Symbols holds per-symbol overrides keyed by symbol.
	Symbols map[string]Override `yaml:"symbols"`

	// Secrets never come from the YAML file.
	Secrets Secrets `yaml:"-"`
}

// Log configures the structured logger.
type Log struct {
	Service string `yaml:"service"`
	Index   string `yaml:"index"` // log index prefix, e.g. "bot-logs"
	Level   string `yaml:"level"`
}

// Feed configures the live websocket price feed.
type Feed struct {
	URL               string `yaml:"url"`
	ReconnectDelayMs  int    `yaml:"reconnect_delay_ms"`
	MaxReconnectDelMs int    `yaml:"max_reconnect_delay_ms"`
	InboxSize         int    `yaml:"inbox_size"`   // per-symbol tick inbox, power of 2
	SessionOnly       bool   `yaml:"session_only"` // drop ticks outside the US regular session
}

// Bars selects the historical price source for backtests and replay mode.
type Bars struct {
	Type    string  `yaml:"type"` // synthetic | csv | sqlite
	DataDir string  `yaml:"data_dir"`
	Column  string  `yaml:"column"` // close | adj_close | any header
	Speed   float64 `yaml:"speed"`  // replay speed multiplier, 0 = as fast as possible

	// RecordSec > 0 makes the live bot store live ticks as bars of this many
	// seconds in the sqlite bars table.
	RecordSec int `yaml:"record_sec"`
}

// Strategy holds the decision thresholds and indicator periods.
type Strategy struct {
	Oversold         float64 `yaml:"oversold"`
	Overbought       float64 `yaml:"overbought"`
	RSIBuyThreshold  float64 `yaml:"rsi_buy_threshold"`
	RSIBuyMultiplier float64 `yaml:"rsi_buy_multiplier"`
	RSILowBand       float64 `yaml:"rsi_low_band"`
	RSIMidBand       float64 `yaml:"rsi_mid_band"`
	RSISellConfirm   float64 `yaml:"rsi_sell_confirm"`
	TakeProfitPct    float64 `yaml:"take_profit_pct"`
	StopLossPct      float64 `yaml:"stop_loss_pct"` // 0 disables
	EnableKDBuys     bool    `yaml:"enable_kd_buys"`
	AddCooldownSec   float64 `yaml:"add_cooldown_sec"` // 0 disables
	MinLot           int64   `yaml:"min_lot"`

	RSIPeriod   int `yaml:"rsi_period"`
	StochPeriod int `yaml:"stoch_period"`
	KPeriod     int `yaml:"k_period"`
	DPeriod     int `yaml:"d_period"`

	Trend Trend `yaml:"trend"`
}

// Trend configures the optional moving-average entry filter.
type Trend struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // sma | ema | smma
	Period  int    `yaml:"period"`
}

// Slices configures the capital split.
type Slices struct {
	Total       int `yaml:"total"`
	PerEntryLow int `yaml:"per_entry_low"` // RSI/K below the low band or oversold
	PerEntryMid int `yaml:"per_entry_mid"` // between the bands
}

// Risk holds account-level money settings.
type Risk struct {
	Equity             float64 `yaml:"equity"`
	EquityRefreshSec   int     `yaml:"equity_refresh_sec"`
	EquityFromRedisKey bool    `yaml:"equity_from_redis"`
}

// Execution configures the order executor.
type Execution struct {
	Router          string  `yaml:"router"` // paper | broker
	QueueSize       int     `yaml:"queue_size"`
	RouteTimeoutSec int     `yaml:"route_timeout_sec"`
	SlippageBps     float64 `yaml:"slippage_bps"`
}

// Storage selects the journal backend.
type Storage struct {
	Driver     string `yaml:"driver"` // sqlite | postgres | none
	SQLitePath string `yaml:"sqlite_path"`
}

// Redis configures the optional equity source and order-intent stream.
type Redis struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	Stream    string `yaml:"stream"`
	EquityKey string `yaml:"equity_key"`
}

// Metrics configures the Prometheus/health HTTP server.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Broker configures the REST order router.
type Broker struct {
	BaseURL string `yaml:"base_url"`
}

// Optimize holds the parameter grid for cmd/optimize.
type Optimize struct {
	TakeProfitPct  []float64 `yaml:"take_profit_pct"`
	Oversold       []float64 `yaml:"oversold"`
	Overbought     []float64 `yaml:"overbought"`
	AddCooldownSec []float64 `yaml:"add_cooldown_sec"`
	PerEntryLow    []int     `yaml:"per_entry_low"`
	PerEntryMid    []int     `yaml:"per_entry_mid"`
	TopN           int       `yaml:"top_n"`
}

// Secrets are read from the environment (and .env).
type Secrets struct {
	PostgresDSN      string `envconfig:"POSTGRES_DSN"`
	RedisPassword    string `envconfig:"REDIS_PASSWORD"`
	SlackWebhookURL  string `envconfig:"SLACK_WEBHOOK_URL"`
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `envconfig:"TELEGRAM_CHAT_ID"`
	BrokerAppKey     string `envconfig:"BROKER_APP_KEY"`
	BrokerAppSecret  string `envconfig:"BROKER_APP_SECRET"`
	BrokerAccount    string `envconfig:"BROKER_ACCOUNT"`
	BrokerTOTPSecret string `envconfig:"BROKER_TOTP_SECRET"`
}

// Default returns the configuration used for every field the file omits.
func Default() Config {
	return Config{
		Mode:     "paper",
		Universe: []string{"TQQQ"},
		Log:      Log{Service: "kdtrader", Index: "bot-logs", Level: "info"},
		Feed: Feed{
			URL:               "ws://localhost:9001/ws",
			ReconnectDelayMs:  2000,
			MaxReconnectDelMs: 30000,
			InboxSize:         1024,
		},
		Bars: Bars{Type: "synthetic", DataDir: "data", Column: "close"},
		Strategy: Strategy{
			Oversold:         20,
			Overbought:       80,
			RSIBuyThreshold:  50,
			RSIBuyMultiplier: 1.1,
			RSILowBand:       20,
			RSIMidBand:       80,
			RSISellConfirm:   80,
			TakeProfitPct:    0.11,
			EnableKDBuys:     true,
			MinLot:           1,
			RSIPeriod:        14,
			StochPeriod:      14,
			KPeriod:          3,
			DPeriod:          3,
			Trend:            Trend{Type: "sma", Period: 50},
		},
		Slices:    Slices{Total: 60, PerEntryLow: 4, PerEntryMid: 1},
		Risk:      Risk{Equity: 6000, EquityRefreshSec: 30},
		Execution: Execution{Router: "paper", QueueSize: 1024, RouteTimeoutSec: 10},
		Storage:   Storage{Driver: "sqlite", SQLitePath: "data/kdtrader.db"},
		Redis:     Redis{Addr: "localhost:6379", Stream: "orders:intents", EquityKey: "account:equity"},
		Metrics:   Metrics{Addr: ":9090"},
		Optimize: Optimize{
			TakeProfitPct:  []float64{0.05, 0.08, 0.11, 0.15},
			Oversold:       []float64{15, 20, 25},
			Overbought:     []float64{75, 80, 85},
			AddCooldownSec: []float64{0},
			PerEntryLow:    []int{2, 4},
			PerEntryMid:    []int{1},
			TopN:           10,
		},
	}
}

// Load reads .env (if present), decodes the YAML file at path over the
// defaults, overlays secrets from the environment and validates the result.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	// .env is optional in production.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Decode(bytes.NewReader(data), &cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := envconfig.Process("", &cfg.Secrets); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Decode decodes YAML from r over cfg. Unknown keys are rejected.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	cfg.normalize()
	return nil
}

func (c *Config) normalize() {
	for i, s := range c.Universe {
		c.Universe[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if len(c.Symbols) > 0 {
		up := make(map[string]Override, len(c.Symbols))
		for s, ov := range c.Symbols {
			up[strings.ToUpper(strings.TrimSpace(s))] = ov
		}
		c.Symbols = up
	}
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.Bars.Type = strings.ToLower(strings.TrimSpace(c.Bars.Type))
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Execution.Router = strings.ToLower(strings.TrimSpace(c.Execution.Router))
}

// Validate checks the process-level settings and every symbol's merged view.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Mode != "paper" && c.Mode != "live" {
		add("mode must be paper or live, got %q", c.Mode)
	}
	if len(c.Universe) == 0 {
		add("universe must list at least one symbol")
	}
	seen := make(map[string]bool, len(c.Universe))
	for _, s := range c.Universe {
		if s == "" {
			add("universe has an empty symbol")
		} else if seen[s] {
			add("universe lists %s twice", s)
		}
		seen[s] = true
	}
	switch c.Bars.Type {
	case "synthetic", "csv", "sqlite":
	default:
		add("bars.type must be synthetic, csv or sqlite, got %q", c.Bars.Type)
	}
	if c.Bars.Type == "csv" && c.Bars.DataDir == "" {
		add("bars.data_dir is required for csv bars")
	}
	if c.Bars.Speed < 0 {
		add("bars.speed must not be negative")
	}
	if c.Bars.RecordSec < 0 {
		add("bars.record_sec must not be negative")
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			add("storage.sqlite_path is required for the sqlite driver")
		}
	case "postgres", "none":
	default:
		add("storage.driver must be sqlite, postgres or none, got %q", c.Storage.Driver)
	}
	switch c.Execution.Router {
	case "paper", "broker":
	default:
		add("execution.router must be paper or broker, got %q", c.Execution.Router)
	}
	if c.Mode == "live" && c.Execution.Router != "broker" {
		add("live mode needs execution.router: broker")
	}
	if c.Feed.InboxSize <= 0 || c.Feed.InboxSize&(c.Feed.InboxSize-1) != 0 {
		add("feed.inbox_size must be a power of 2, got %d", c.Feed.InboxSize)
	}

	for _, sym := range c.symbolsToCheck() {
		if err := c.ForSymbol(sym).Validate(); err != nil {
			add("%s: %w", sym, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (c *Config) symbolsToCheck() []string {
	out := append([]string(nil), c.Universe...)
	for s := range c.Symbols {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
