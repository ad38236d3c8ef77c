package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"greenfloor/infrastructure/logger"
)

// ProgramConfig holds the daemon runtime configuration.
type ProgramConfig struct {
	Env       string          `yaml:"env"`
	HomeDir   string          `yaml:"home_dir"`
	DryRun    bool            `yaml:"dry_run"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Log       logger.Config   `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Sage      SageConfig      `yaml:"sage"`
	PriceFeed PriceFeedConfig `yaml:"price_feed"`
}

type RuntimeConfig struct {
	LoopIntervalSeconds int `yaml:"loop_interval_seconds"`
	// 同一周期内并发评估的市场数上限
	MaxConcurrentMarkets int `yaml:"max_concurrent_markets"`
	// 超过该时长的报价在周期末尾被轮换，0 表示不轮换
	OfferMaxAgeSeconds int `yaml:"offer_max_age_seconds"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// SageConfig 本地 Sage 钱包 RPC（mTLS）。
type SageConfig struct {
	Host        string  `yaml:"host"`
	Port        int     `yaml:"port"`
	CertPath    string  `yaml:"cert_path"`
	KeyPath     string  `yaml:"key_path"`
	Fingerprint int64   `yaml:"fingerprint"`
	FeeMojos    int64   `yaml:"fee_mojos"`
	RatePerSec  float64 `yaml:"rate_per_sec"`
	Burst       int     `yaml:"burst"`
}

type PriceFeedConfig struct {
	XCHPriceURL    string  `yaml:"xch_price_url"`
	TickersURL     string  `yaml:"tickers_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSec     float64 `yaml:"rate_per_sec"`
	Burst          int     `yaml:"burst"`
}

// DefaultProgram 返回默认配置；YAML 中出现的字段会覆盖这些值。
func DefaultProgram() ProgramConfig {
	return ProgramConfig{
		Env:     "mainnet",
		HomeDir: "~/.greenfloor",
		Runtime: RuntimeConfig{
			LoopIntervalSeconds:  30,
			MaxConcurrentMarkets: 4,
		},
		Log:     logger.DefaultConfig(),
		Metrics: MetricsConfig{Addr: ":9108"},
		Sage: SageConfig{
			Host:       "127.0.0.1",
			Port:       9257,
			RatePerSec: 5,
			Burst:      10,
		},
		PriceFeed: PriceFeedConfig{
			XCHPriceURL:    "https://coincodex.com/api/coincodex/get_coin/xch",
			TickersURL:     "https://api.dexie.space/v3/prices/tickers",
			TimeoutSeconds: 8,
			RatePerSec:     1,
			Burst:          2,
		},
	}
}

// LoadProgram reads the program YAML from path on top of defaults and validates it.
func LoadProgram(path string) (ProgramConfig, error) {
	cfg := DefaultProgram()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read program config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse program yaml: %w", err)
	}
	if err := ValidateProgram(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadProgramWithEnvOverrides loads the program config then applies GREENFLOOR_* env vars.
func LoadProgramWithEnvOverrides(path string) (ProgramConfig, error) {
	cfg, err := LoadProgram(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("GREENFLOOR_SAGE_CERT_PATH"); v != "" {
		cfg.Sage.CertPath = v
	}
	if v := os.Getenv("GREENFLOOR_SAGE_KEY_PATH"); v != "" {
		cfg.Sage.KeyPath = v
	}
	if v := os.Getenv("GREENFLOOR_SAGE_FINGERPRINT"); v != "" {
		fp, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("GREENFLOOR_SAGE_FINGERPRINT: %w", err)
		}
		cfg.Sage.Fingerprint = fp
	}
	if v := os.Getenv("GREENFLOOR_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	return cfg, ValidateProgram(cfg)
}

// LoadMarkets reads and validates a markets YAML file.
func LoadMarkets(path string) (MarketsConfig, error) {
	var cfg MarketsConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read markets config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse markets yaml: %w", err)
	}
	if err := ValidateMarkets(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadMarketsWithOverlay loads path and, when overlayPath is set, merges the
// overlay on top: markets with the same id are replaced, new ones appended.
func LoadMarketsWithOverlay(path, overlayPath string) (MarketsConfig, error) {
	base, err := LoadMarkets(path)
	if err != nil {
		return base, err
	}
	if overlayPath == "" {
		return base, nil
	}
	overlay, err := LoadMarkets(overlayPath)
	if err != nil {
		return base, fmt.Errorf("overlay: %w", err)
	}
	merged := base.Merge(overlay)
	return merged, ValidateMarkets(merged)
}
