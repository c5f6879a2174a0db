// Package config loads service configuration from YAML with environment overrides.
package config

import (
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv   = "SALES_NOTIFIER_CONFIG"
	botTokenEnv     = "TELEGRAM_BOT_TOKEN"
	databasePathEnv = "DATABASE_PATH"
	httpAddrEnv     = "HTTP_ADDR"
	scanURLEnv      = "SCAN_URL"
	logLevelEnv     = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Telegram TelegramConfig `yaml:"telegram"`
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Scan     ScanConfig     `yaml:"scan"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel resolves the configured level string, defaulting to Info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TelegramConfig wires the bot frontend.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	PageSize int    `yaml:"pageSize"` // Listings per /deals and /more page
}

// DatabaseConfig describes the SQLite database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig describes the listen address of the HTTP API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// ScanConfig defines how and how often the catalog is scraped.
type ScanConfig struct {
	URL               string  `yaml:"url"`
	IntervalSeconds   int     `yaml:"intervalSeconds"`
	BackoffSeconds    int     `yaml:"backoffSeconds"`
	ToleranceFraction float64 `yaml:"toleranceFraction"`
	AlertOnFirstRun   bool    `yaml:"alertOnFirstRun"`
}

// Interval returns the normal scan period.
func (s ScanConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Backoff returns the short retry delay used after a rejected scan.
func (s ScanConfig) Backoff() time.Duration {
	return time.Duration(s.BackoffSeconds) * time.Second
}

// DispatchConfig tunes the throttled alert drain loop.
type DispatchConfig struct {
	DrainIntervalSeconds int `yaml:"drainIntervalSeconds"`
	MaxAttempts          int `yaml:"maxAttempts"`
}

// DrainInterval returns the fixed period between drain ticks.
func (d DispatchConfig) DrainInterval() time.Duration {
	return time.Duration(d.DrainIntervalSeconds) * time.Second
}

// Load reads YAML configuration (if present) and applies environment overrides.
// Keys absent from the file keep their defaults.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			cfg = defaultConfig()
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(botTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv(scanURLEnv); v != "" {
		c.Scan.URL = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Telegram: TelegramConfig{PageSize: 50},
		Database: DatabaseConfig{Path: "steam_sales.db"},
		HTTP:     HTTPConfig{Addr: ":8080"},
		Scan: ScanConfig{
			URL:               "",
			IntervalSeconds:   1800,
			BackoffSeconds:    60,
			ToleranceFraction: 0.90,
			AlertOnFirstRun:   false,
		},
		Dispatch: DispatchConfig{
			DrainIntervalSeconds: 10,
			MaxAttempts:          3,
		},
	}
}
