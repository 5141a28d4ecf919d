// Package config loads application configuration. Infrastructure settings
// come from environment variables with sensible defaults; the strategy
// parameter surface can additionally be overridden from a TOML file so that
// live runs and backtests share one parameter set.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"trapwatch/internal/model"
)

// Strategy holds every tunable of the detection pipeline. It is immutable
// after startup and shared read-only across instrument units.
type Strategy struct {
	// Breakout / reclaim detection
	RangeWindowMin       int     `toml:"range_window_min"` // rolling range horizon (minutes)
	BreakoutThresholdBps float64 `toml:"breakout_threshold_bps"`
	ReclaimTimeoutSec    int     `toml:"reclaim_timeout_sec"`

	// TP/SL construction
	SLBufferBps float64 `toml:"sl_buffer_bps"`
	RRRatio     float64 `toml:"rr_ratio"`

	// Admission filters
	SpreadMaxBps  float64 `toml:"spread_max_bps"`
	ImpactMaxBps  float64 `toml:"impact_max_bps"`
	QuoteAgeMaxMs int64   `toml:"quote_age_max_ms"`
	VolMin        float64 `toml:"vol_min"`
	VolMax        float64 `toml:"vol_max"`

	// RSI momentum confirmation
	RSIPeriod        int     `toml:"rsi_period"`
	RSIOverbought    float64 `toml:"rsi_overbought"`
	RSIOversold      float64 `toml:"rsi_oversold"`
	RSIConfirmBuffer float64 `toml:"rsi_confirm_buffer"`

	// Window / feature computation
	WindowCapacity     int `toml:"window_capacity"`
	WarmupCount        int `toml:"warmup_count"`
	ReturnShortSec     int `toml:"return_short_sec"`
	ReturnMediumSec    int `toml:"return_medium_sec"`
	ReturnLongSec      int `toml:"return_long_sec"`
	VolWindowSec       int `toml:"vol_window_sec"`
	OffsetToleranceSec int `toml:"offset_tolerance_sec"`

	// Position lifecycle
	SinglePosition  bool  `toml:"single_position"`    // at most one pending signal per instrument
	SignalMaxAgeSec int64 `toml:"signal_max_age_sec"` // 0 = pending signals never expire

	// Backtest / walk-forward
	SharpePeriodsPerYear  float64 `toml:"sharpe_periods_per_year"`
	RiskFreeRate          float64 `toml:"risk_free_rate"`
	MonotonicToleranceSec int     `toml:"monotonic_tolerance_sec"` // replay aborts beyond this regression
	BacktestDefaultDays   int     `toml:"backtest_default_days"`
	WFTrainDays           int     `toml:"wf_train_days"`
	WFTestDays            int     `toml:"wf_test_days"`
	WFStepDays            int     `toml:"wf_step_days"`
}

// DefaultStrategy returns the stock parameter set.
func DefaultStrategy() Strategy {
	return Strategy{
		RangeWindowMin:       20,
		BreakoutThresholdBps: 5,
		ReclaimTimeoutSec:    60,

		SLBufferBps: 2,
		RRRatio:     2.0,

		SpreadMaxBps:  3,
		ImpactMaxBps:  5,
		QuoteAgeMaxMs: 5000,
		VolMin:        0.0001,
		VolMax:        0.01,

		RSIPeriod:        14,
		RSIOverbought:    75,
		RSIOversold:      25,
		RSIConfirmBuffer: 5,

		// 20 min of 2s samples + one minute of slack
		WindowCapacity:     630,
		WarmupCount:        30,
		ReturnShortSec:     5,
		ReturnMediumSec:    15,
		ReturnLongSec:      60,
		VolWindowSec:       60,
		OffsetToleranceSec: 3,

		SinglePosition:  true,
		SignalMaxAgeSec: 0,

		SharpePeriodsPerYear:  252 * 24 * 60,
		RiskFreeRate:          0,
		MonotonicToleranceSec: 5,
		BacktestDefaultDays:   7,
		WFTrainDays:           7,
		WFTestDays:            1,
		WFStepDays:            1,
	}
}

// Config holds all application configuration.
type Config struct {
	Strategy Strategy

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string

	// Live feed
	FeedURL string

	// Instruments ("source:ticker,source:ticker,...")
	Instruments string
}

// Load reads configuration from environment variables, then applies the
// strategy TOML file named by STRATEGY_CONFIG (default config/strategy.toml)
// if it exists.
func Load() (*Config, error) {
	cfg := &Config{
		Strategy: DefaultStrategy(),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/trapwatch.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		FeedURL: getEnv("FEED_URL", ""),

		Instruments: getEnv("INSTRUMENTS", "variational:ETH,bybit:ETH"),
	}

	path := getEnv("STRATEGY_CONFIG", "config/strategy.toml")
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg.Strategy); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		log.Printf("[config] loaded strategy parameters from %s", path)
	}

	if err := cfg.Strategy.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects parameter combinations the pipeline cannot run with.
func (s *Strategy) Validate() error {
	if s.WindowCapacity < 2 {
		return fmt.Errorf("config: window_capacity must be >= 2, got %d", s.WindowCapacity)
	}
	if s.WarmupCount < 2 {
		return fmt.Errorf("config: warmup_count must be >= 2, got %d", s.WarmupCount)
	}
	if s.RRRatio <= 0 {
		return fmt.Errorf("config: rr_ratio must be > 0, got %g", s.RRRatio)
	}
	if s.RSIPeriod < 2 {
		return fmt.Errorf("config: rsi_period must be >= 2, got %d", s.RSIPeriod)
	}
	if s.VolMin > s.VolMax {
		return fmt.Errorf("config: vol_min %g > vol_max %g", s.VolMin, s.VolMax)
	}
	return nil
}

// ParseInstruments parses the Instruments string into instrument keys.
// Invalid entries are skipped with a warning.
func (c *Config) ParseInstruments() []model.InstrumentKey {
	parts := strings.Split(c.Instruments, ",")
	keys := make([]model.InstrumentKey, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		src, ticker, ok := strings.Cut(p, ":")
		if !ok || src == "" || ticker == "" {
			log.Printf("[config] skipping invalid instrument %q", p)
			continue
		}
		keys = append(keys, model.InstrumentKey{Source: src, Ticker: ticker})
	}
	return keys
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
