package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither CONFIG_PATH nor a flag names a file.
const DefaultPath = "configs/config.yaml"

// WatchEntry is one position refreshed in the background.
type WatchEntry struct {
	EntityID string `yaml:"entity_id"`
	Symbol   string `yaml:"symbol"`
}

// Config holds all application configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Upstream struct {
		Provider string        `yaml:"provider"`
		BaseURL  string        `yaml:"base_url"`
		Proxy    string        `yaml:"proxy"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"upstream"`
	Fetch struct {
		MinInterval time.Duration `yaml:"min_interval"`
		MaxJitter   time.Duration `yaml:"max_jitter"`
		MaxRetries  int           `yaml:"max_retries"`
		BaseDelay   time.Duration `yaml:"base_delay"`
		ChunkDelay  time.Duration `yaml:"chunk_delay"`
	} `yaml:"fetch"`
	Cache struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"cache"`
	Database struct {
		Driver      string `yaml:"driver"`
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"database"`
	Server struct {
		Addr              string  `yaml:"addr"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"server"`
	Schedule struct {
		RefreshCron     string `yaml:"refresh_cron"`
		MarketHoursOnly bool   `yaml:"market_hours_only"`
		Concurrency     int    `yaml:"concurrency"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Watchlist []WatchEntry `yaml:"watchlist"`
}

// Load reads config from a YAML file, loads an optional .env file, then
// applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Variables already set in the environment win over .env.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"LOG_LEVEL":          &c.LogLevel,
		"LOG_FORMAT":         &c.LogFormat,
		"UPSTREAM_PROVIDER":  &c.Upstream.Provider,
		"UPSTREAM_BASE_URL":  &c.Upstream.BaseURL,
		"HTTPS_PROXY":        &c.Upstream.Proxy,
		"DB_DRIVER":          &c.Database.Driver,
		"SQLITE_PATH":        &c.Database.SQLitePath,
		"POSTGRES_DSN":       &c.Database.PostgresDSN,
		"SERVER_ADDR":        &c.Server.Addr,
		"CRON_REFRESH":       &c.Schedule.RefreshCron,
		"TELEGRAM_BOT_TOKEN": &c.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":   &c.Telegram.ChatID,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"UPSTREAM_TIMEOUT":   &c.Upstream.Timeout,
		"FETCH_MIN_INTERVAL": &c.Fetch.MinInterval,
		"FETCH_MAX_JITTER":   &c.Fetch.MaxJitter,
		"FETCH_BASE_DELAY":   &c.Fetch.BaseDelay,
		"FETCH_CHUNK_DELAY":  &c.Fetch.ChunkDelay,
		"CACHE_TTL":          &c.Cache.TTL,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"FETCH_MAX_RETRIES":    &c.Fetch.MaxRetries,
		"SERVER_BURST":         &c.Server.Burst,
		"SCHEDULE_CONCURRENCY": &c.Schedule.Concurrency,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = n
	}

	if v := os.Getenv("SERVER_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse SERVER_RPS: %w", err)
		}
		c.Server.RequestsPerSecond = rps
	}
	if v := os.Getenv("MARKET_HOURS_ONLY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse MARKET_HOURS_ONLY: %w", err)
		}
		c.Schedule.MarketHoursOnly = b
	}
	// WATCHLIST=pos-1:AAPL,pos-2:MSFT replaces the file's watchlist.
	if v := os.Getenv("WATCHLIST"); v != "" {
		var list []WatchEntry
		for _, item := range strings.Split(v, ",") {
			id, sym, ok := strings.Cut(strings.TrimSpace(item), ":")
			if !ok {
				return fmt.Errorf("parse WATCHLIST: entry %q is not entity_id:symbol", item)
			}
			list = append(list, WatchEntry{EntityID: id, Symbol: sym})
		}
		c.Watchlist = list
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Upstream.Provider == "" {
		c.Upstream.Provider = "yahoo"
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 15 * time.Second
	}
	if c.Fetch.MinInterval == 0 {
		c.Fetch.MinInterval = 2 * time.Second
	}
	if c.Fetch.MaxJitter == 0 {
		c.Fetch.MaxJitter = time.Second
	}
	if c.Fetch.MaxRetries == 0 {
		c.Fetch.MaxRetries = 3
	}
	if c.Fetch.BaseDelay == 0 {
		c.Fetch.BaseDelay = 2 * time.Second
	}
	if c.Fetch.ChunkDelay == 0 {
		c.Fetch.ChunkDelay = 2 * time.Second
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 15 * time.Minute
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/portfolio_feed.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RequestsPerSecond == 0 {
		c.Server.RequestsPerSecond = 5
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = 10
	}
	if c.Schedule.RefreshCron == "" {
		c.Schedule.RefreshCron = "0 */15 * * * *"
	}
	if c.Schedule.Concurrency == 0 {
		c.Schedule.Concurrency = 2
	}
}

// Validate checks that all required fields are set and consistent.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	switch c.Upstream.Provider {
	case "yahoo", "mock":
	default:
		return fmt.Errorf("upstream.provider must be yahoo or mock, got %q", c.Upstream.Provider)
	}
	switch c.Database.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("database.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or memory, got %q", c.Database.Driver)
	}
	if c.Fetch.MaxRetries < 1 {
		return fmt.Errorf("fetch.max_retries must be positive")
	}
	if c.Fetch.MinInterval < 0 || c.Fetch.MaxJitter < 0 || c.Fetch.ChunkDelay < 0 {
		return fmt.Errorf("fetch delays must not be negative")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	if c.Schedule.Concurrency < 1 {
		return fmt.Errorf("schedule.concurrency must be positive")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	seen := make(map[string]bool, len(c.Watchlist))
	for i, w := range c.Watchlist {
		if w.EntityID == "" || strings.TrimSpace(w.Symbol) == "" {
			return fmt.Errorf("watchlist[%d]: entity_id and symbol are required", i)
		}
		if seen[w.EntityID] {
			return fmt.Errorf("watchlist[%d]: duplicate entity_id %q", i, w.EntityID)
		}
		seen[w.EntityID] = true
	}
	return nil
}

// TelegramEnabled reports whether alerts can be delivered.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// NewLogger builds the root logger from the log settings.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
