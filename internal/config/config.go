package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"mabot/internal/models"
	"mabot/internal/strategy"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModePaper    Mode = "paper"
)

const dateLayout = "2006-01-02"

type Config struct {
	Mode   Mode
	Symbol string

	Env            string
	Market         string
	Account        string
	InitialBalance decimal.Decimal

	TimeZone      string
	Location      *time.Location
	SessionClose  time.Duration
	HistoryWindow time.Duration

	MinOrderValue     float64
	LotSize           int64
	BandPct           float64
	ProfitThreshold   float64
	PeriodsPerSession float64
	SellMemoryTTL     time.Duration

	DBPath         string
	DecisionsPath  string
	CheckpointPath string
	BarsPath       string

	KafkaBrokers []string
	KafkaTopic   string

	LogLevel  string
	LogPretty bool

	Feed              string
	PaperBaseURL      string
	ReconcileInterval time.Duration
	ExtendedHours     bool
	DryRun            bool

	Start time.Time
	End   time.Time

	APIKey    string
	APISecret string
}

// Load reads flags from the command line. Values in .env fill in variables
// the environment does not already set.
func Load() (Config, error) {
	return load(flag.CommandLine, os.Args[1:], ".env")
}

func load(fs *flag.FlagSet, args []string, envPath string) (Config, error) {
	if err := loadDotEnv(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envPath, err)
	}

	defaults := strategy.DefaultParams()
	var cfg Config
	var mode, balance, brokers, start, end string

	fs.StringVar(&mode, "mode", string(ModeBacktest), "run mode: backtest or paper")
	fs.StringVar(&cfg.Symbol, "symbol", "AAPL", "trading symbol")
	fs.StringVar(&cfg.Env, "env", "", "trade environment (defaults to the mode)")
	fs.StringVar(&cfg.Market, "market", "us", "market name")
	fs.StringVar(&cfg.Account, "account", "main", "account name")
	fs.StringVar(&balance, "initial-balance", "100000", "balance of a newly created account")
	fs.StringVar(&cfg.TimeZone, "tz", "America/New_York", "exchange time zone")
	fs.DurationVar(&cfg.SessionClose, "session-close", 16*time.Hour, "session close as offset from local midnight")
	fs.DurationVar(&cfg.HistoryWindow, "history-window", 360*24*time.Hour, "price history passed to the strategy")
	fs.Float64Var(&cfg.MinOrderValue, "min-order-value", defaults.MinOrderValue, "minimum notional of a buy")
	fs.Int64Var(&cfg.LotSize, "lot-size", defaults.LotSize, "share lot size")
	fs.Float64Var(&cfg.BandPct, "band-pct", defaults.BandPct, "price band around an open holding that blocks buys")
	fs.Float64Var(&cfg.ProfitThreshold, "profit-threshold", defaults.ProfitThreshold, "relative gain that counts as recovered")
	fs.Float64Var(&cfg.PeriodsPerSession, "periods-per-session", defaults.PeriodsPerSession, "bars per trading session")
	fs.DurationVar(&cfg.SellMemoryTTL, "sell-memory-ttl", defaults.SellMemoryTTL, "how long a sale blocks buys at or above its price")
	fs.StringVar(&cfg.DBPath, "db-path", "", "sqlite database path (empty keeps state in memory)")
	fs.StringVar(&cfg.DecisionsPath, "decisions-path", "decisions.ndjson", "path to decisions log")
	fs.StringVar(&cfg.CheckpointPath, "checkpoint-path", "checkpoint.json", "path to checkpoint file")
	fs.StringVar(&cfg.BarsPath, "bars", "", "CSV or JSON bar file for backtests (empty uses alpaca)")
	fs.StringVar(&brokers, "kafka-brokers", "", "comma separated kafka brokers (empty disables events)")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", "holding-events", "kafka topic for holding events")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.BoolVar(&cfg.LogPretty, "log-pretty", false, "human readable console logs")
	fs.StringVar(&cfg.Feed, "feed", "iex", "alpaca market data feed: iex, sip or test")
	fs.StringVar(&cfg.PaperBaseURL, "paper-base-url", "https://paper-api.alpaca.markets", "paper trading base URL")
	fs.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", 10*time.Second, "order status polling interval")
	fs.BoolVar(&cfg.ExtendedHours, "extended-hours", false, "allow extended hours (limit+day only)")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "log decisions without placing orders")
	fs.StringVar(&start, "start", "", "backtest start date YYYY-MM-DD")
	fs.StringVar(&end, "end", "", "backtest end date YYYY-MM-DD (exclusive)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Mode = Mode(mode)
	if cfg.Env == "" {
		cfg.Env = mode
	}
	cfg.APIKey = os.Getenv("APCA_API_KEY_ID")
	cfg.APISecret = os.Getenv("APCA_API_SECRET_KEY")
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	var err error
	if cfg.InitialBalance, err = decimal.NewFromString(balance); err != nil {
		return cfg, fmt.Errorf("initial-balance: %w", err)
	}
	if cfg.Location, err = time.LoadLocation(cfg.TimeZone); err != nil {
		return cfg, fmt.Errorf("tz: %w", err)
	}
	if cfg.Start, err = parseDate(start, cfg.Location); err != nil {
		return cfg, fmt.Errorf("start: %w", err)
	}
	if cfg.End, err = parseDate(end, cfg.Location); err != nil {
		return cfg, fmt.Errorf("end: %w", err)
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	// godotenv.Load never overrides variables already in the environment
	return godotenv.Load(path)
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dateLayout, s, loc)
}

func (c Config) TradeContext() models.TradeContext {
	return models.TradeContext{Env: c.Env, Market: c.Market, Account: c.Account}
}

// StrategyParams overlays the configured tunables on the defaults.
func (c Config) StrategyParams() strategy.Params {
	p := strategy.DefaultParams()
	p.MinOrderValue = c.MinOrderValue
	p.LotSize = c.LotSize
	p.BandPct = c.BandPct
	p.ProfitThreshold = c.ProfitThreshold
	p.PeriodsPerSession = c.PeriodsPerSession
	p.SellMemoryTTL = c.SellMemoryTTL
	return p
}

func validate(cfg Config) error {
	if cfg.Mode != ModeBacktest && cfg.Mode != ModePaper {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if err := cfg.TradeContext().Validate(); err != nil {
		return err
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		if cfg.Mode == ModePaper || cfg.BarsPath == "" {
			return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required unless a bar file is given")
		}
	}
	if !cfg.InitialBalance.IsPositive() {
		return fmt.Errorf("initial-balance must be > 0")
	}
	if cfg.SessionClose <= 0 || cfg.SessionClose > 24*time.Hour {
		return fmt.Errorf("session-close must be within a day")
	}
	if cfg.HistoryWindow <= 0 {
		return fmt.Errorf("history-window must be > 0")
	}
	if cfg.MinOrderValue <= 0 {
		return fmt.Errorf("min-order-value must be > 0")
	}
	if cfg.LotSize <= 0 {
		return fmt.Errorf("lot-size must be > 0")
	}
	if cfg.BandPct < 0 || cfg.BandPct >= 1 {
		return fmt.Errorf("band-pct must be in [0, 1)")
	}
	if cfg.ProfitThreshold <= 0 {
		return fmt.Errorf("profit-threshold must be > 0")
	}
	if cfg.PeriodsPerSession <= 0 {
		return fmt.Errorf("periods-per-session must be > 0")
	}
	if cfg.SellMemoryTTL < 0 {
		return fmt.Errorf("sell-memory-ttl must be >= 0")
	}
	if cfg.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile-interval must be > 0")
	}
	if cfg.Mode == ModeBacktest && cfg.BarsPath == "" && (cfg.Start.IsZero() || cfg.End.IsZero()) {
		return fmt.Errorf("start and end are required to fetch backtest bars")
	}
	if !cfg.Start.IsZero() && !cfg.End.IsZero() && !cfg.End.After(cfg.Start) {
		return fmt.Errorf("end must be after start")
	}
	return nil
}
