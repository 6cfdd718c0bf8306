// Package config loads the agent configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	mainnetURL   = "https://api.bybit.com"
	testnetURL   = "https://api-testnet.bybit.com"
	mainnetWSURL = "wss://stream.bybit.com/v5/private"
	testnetWSURL = "wss://stream-testnet.bybit.com/v5/private"
)

// Config holds every runtime option. It is built once at startup and never
// mutated afterwards.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool

	Category    string
	AccountType string
	RecvWindow  string

	Leverage int
	RiskPct  decimal.Decimal

	MaxConcurrentTrades int
	MaxTradesPerDay     int
	SignalMaxLagSec     int

	EntryExpirationMin      int
	EntryTooFarPct          decimal.Decimal
	EntryExpirationPricePct decimal.Decimal
	EntryTriggerBufferPct   decimal.Decimal
	EntryLimitOffsetPct     decimal.Decimal

	InitialSLPct decimal.Decimal
	TPSplits     []decimal.Decimal
	DCAQtyMults  []decimal.Decimal

	MoveSLToBEOnTP1   bool
	TrailAfterTPIndex int
	TrailDistancePct  decimal.Decimal
	TrailActivateOnTP bool

	PollSeconds   int
	PollJitterMax float64

	DryRun      bool
	StateFile   string
	SignalsFile string

	LogLevel    string
	MetricsPort int
}

// Load reads a .env file if present, then builds the Config from the
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIKey:    strings.TrimSpace(os.Getenv("BYBIT_API_KEY")),
		APISecret: strings.TrimSpace(os.Getenv("BYBIT_API_SECRET")),
		Testnet:   getBool("BYBIT_TESTNET", false),

		Category:    getString("CATEGORY", "linear"),
		AccountType: getString("ACCOUNT_TYPE", "UNIFIED"),
		RecvWindow:  getString("RECV_WINDOW", "5000"),

		Leverage: getInt("LEVERAGE", 5),
		RiskPct:  getDecimal("RISK_PCT", "5.0"),

		MaxConcurrentTrades: getInt("MAX_CONCURRENT_TRADES", 3),
		MaxTradesPerDay:     getInt("MAX_TRADES_PER_DAY", 20),
		SignalMaxLagSec:     getInt("SIGNAL_MAX_LAG_SEC", 300),

		EntryExpirationMin:      getInt("ENTRY_EXPIRATION_MIN", 180),
		EntryTooFarPct:          getDecimal("ENTRY_TOO_FAR_PCT", "0.5"),
		EntryExpirationPricePct: getDecimal("ENTRY_EXPIRATION_PRICE_PCT", "0"),
		EntryTriggerBufferPct:   getDecimal("ENTRY_TRIGGER_BUFFER_PCT", "0"),
		EntryLimitOffsetPct:     getDecimal("ENTRY_LIMIT_PRICE_OFFSET_PCT", "0"),

		InitialSLPct: getDecimal("INITIAL_SL_PCT", "19.0"),
		TPSplits:     getDecimalList("TP_SPLITS", "30,30,30,10"),
		DCAQtyMults:  getDecimalList("DCA_QTY_MULTS", "1.0,1.0,1.0"),

		MoveSLToBEOnTP1:   getBool("MOVE_SL_TO_BE_ON_TP1", true),
		TrailAfterTPIndex: getInt("TRAIL_AFTER_TP_INDEX", 3),
		TrailDistancePct:  getDecimal("TRAIL_DISTANCE_PCT", "1.0"),
		TrailActivateOnTP: getBool("TRAIL_ACTIVATE_ON_TP", false),

		PollSeconds:   getInt("POLL_SECONDS", 15),
		PollJitterMax: getFloat("POLL_JITTER_MAX", 0),

		DryRun:      getBool("DRY_RUN", false),
		StateFile:   getString("STATE_FILE", "state.json"),
		SignalsFile: getString("SIGNALS_FILE", "signals.jsonl"),

		LogLevel:    getString("LOG_LEVEL", "INFO"),
		MetricsPort: getInt("METRICS_PORT", 0),
	}

	cfg.TPSplits = NormalizeSplits(cfg.TPSplits)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can actually drive the agent.
func (c *Config) Validate() error {
	if !c.DryRun && (c.APIKey == "" || c.APISecret == "") {
		return fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET are required unless DRY_RUN is set")
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("LEVERAGE must be positive, got %d", c.Leverage)
	}
	if c.RiskPct.Sign() <= 0 {
		return fmt.Errorf("RISK_PCT must be positive, got %s", c.RiskPct)
	}
	if c.PollSeconds <= 0 {
		return fmt.Errorf("POLL_SECONDS must be positive, got %d", c.PollSeconds)
	}
	if c.EntryExpirationMin <= 0 {
		return fmt.Errorf("ENTRY_EXPIRATION_MIN must be positive, got %d", c.EntryExpirationMin)
	}
	return nil
}

// BaseURL returns the REST endpoint selected by the testnet flag.
func (c *Config) BaseURL() string {
	if c.Testnet {
		return testnetURL
	}
	return mainnetURL
}

// PrivateWSURL returns the private stream endpoint selected by the testnet flag.
func (c *Config) PrivateWSURL() string {
	if c.Testnet {
		return testnetWSURL
	}
	return mainnetWSURL
}

// NormalizeSplits rescales take-profit splits so they sum to 100. Zero or
// negative entries are kept as-is so callers can still skip those ranks.
func NormalizeSplits(splits []decimal.Decimal) []decimal.Decimal {
	sum := decimal.Zero
	for _, s := range splits {
		if s.Sign() > 0 {
			sum = sum.Add(s)
		}
	}
	if sum.Sign() <= 0 || sum.Equal(decimal.NewFromInt(100)) {
		return splits
	}

	hundred := decimal.NewFromInt(100)
	out := make([]decimal.Decimal, len(splits))
	for i, s := range splits {
		if s.Sign() > 0 {
			out[i] = s.Mul(hundred).Div(sum)
		} else {
			out[i] = s
		}
	}
	return out
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getDecimal(key, def string) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}

func getDecimalList(key, def string) []decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	parts := strings.Split(v, ",")
	out := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := decimal.NewFromString(p)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}
