package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LOG_LEVEL", "LOG_FORMAT", "UPSTREAM_PROVIDER", "UPSTREAM_BASE_URL", "HTTPS_PROXY",
		"DB_DRIVER", "SQLITE_PATH", "POSTGRES_DSN", "SERVER_ADDR", "CRON_REFRESH",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "UPSTREAM_TIMEOUT", "FETCH_MIN_INTERVAL",
		"FETCH_MAX_JITTER", "FETCH_BASE_DELAY", "FETCH_CHUNK_DELAY", "CACHE_TTL",
		"FETCH_MAX_RETRIES", "SERVER_BURST", "SCHEDULE_CONCURRENCY", "SERVER_RPS",
		"MARKET_HOURS_ONLY", "WATCHLIST",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "yahoo", cfg.Upstream.Provider)
	assert.Equal(t, 2*time.Second, cfg.Fetch.MinInterval)
	assert.Equal(t, time.Second, cfg.Fetch.MaxJitter)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Fetch.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Fetch.ChunkDelay)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "0 */15 * * * *", cfg.Schedule.RefreshCron)
	assert.False(t, cfg.TelegramEnabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
log_level: debug
upstream:
  provider: mock
  timeout: 5s
fetch:
  min_interval: 500ms
  max_retries: 5
cache:
  ttl: 1h
database:
  driver: memory
schedule:
  market_hours_only: true
telegram:
  bot_token: file-token
  chat_id: "100"
watchlist:
  - entity_id: pos-1
    symbol: AAPL
`)
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("CACHE_TTL", "30m")
	t.Setenv("SCHEDULE_CONCURRENCY", "4")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "mock", cfg.Upstream.Provider)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetch.MinInterval)
	assert.Equal(t, 5, cfg.Fetch.MaxRetries)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.True(t, cfg.Schedule.MarketHoursOnly)
	assert.Equal(t, 4, cfg.Schedule.Concurrency)
	assert.Equal(t, "env-token", cfg.Telegram.BotToken)
	assert.Equal(t, "100", cfg.Telegram.ChatID)
	assert.True(t, cfg.TelegramEnabled())
	assert.Equal(t, []WatchEntry{{EntityID: "pos-1", Symbol: "AAPL"}}, cfg.Watchlist)
}

func TestLoad_WatchlistEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("WATCHLIST", "a:AAPL, b:VOD.L")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []WatchEntry{{"a", "AAPL"}, {"b", "VOD.L"}}, cfg.Watchlist)

	t.Setenv("WATCHLIST", "AAPL")
	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "WATCHLIST")
}

func TestLoad_BadInput(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "fetch: [unclosed"))
	assert.ErrorContains(t, err, "parse config")

	t.Setenv("CACHE_TTL", "soon")
	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "CACHE_TTL")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"bad provider", func(c *Config) { c.Upstream.Provider = "bloomberg" }, "upstream.provider"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "postgres_dsn"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"half telegram", func(c *Config) { c.Telegram.BotToken = "t" }, "set together"},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }, "cache.ttl"},
		{"empty symbol", func(c *Config) { c.Watchlist = []WatchEntry{{EntityID: "a"}} }, "watchlist[0]"},
		{"duplicate entity", func(c *Config) {
			c.Watchlist = []WatchEntry{{"a", "AAPL"}, {"a", "MSFT"}}
		}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: "warn", LogFormat: "json"}
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}
