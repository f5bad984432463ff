package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })

	_, err = tmpfile.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  poll_interval: 5m
  user_concurrency: 2

detection:
  history_days: 20
  benchmark_symbols:
    - SPY

marketdata:
  api_key: "demo"

nlg:
  api_key: "sk-test"

telegram:
  bot_token: "test_token"
  enabled: true

storage:
  db_path: "./data/test.db"

logging:
  level: "info"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Scheduler.PollInterval)
	assert.Equal(t, 2, cfg.Scheduler.UserConcurrency)
	assert.Equal(t, 20, cfg.Detection.HistoryDays)
	assert.Equal(t, []string{"SPY"}, cfg.Detection.BenchmarkSymbols)
	assert.Equal(t, 24*time.Hour, cfg.Ledger.Window, "ledger window default")
	assert.Equal(t, 4*time.Hour, cfg.Greeting.Interval, "greeting interval default")
	assert.Equal(t, 6*time.Hour, cfg.Detection.NewsWindow)
	assert.Equal(t, 168*time.Hour, cfg.Detection.NewsBaseline)
	assert.Equal(t, 2.0, cfg.Detection.DefaultBaseline)
	assert.Equal(t, 30*time.Second, cfg.Telegram.RequestTimeout, "telegram request timeout default")

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
telegram:
  enabled: true
nlg:
  enabled: false
`)
	t.Setenv("STOCKPULSE_TELEGRAM_BOT_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.BotToken)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Scheduler:  SchedulerConfig{PollInterval: 5 * time.Minute, SweepInterval: time.Hour, UserConcurrency: 1},
		Detection:  DetectionConfig{HistoryDays: 20, DefaultBaseline: 2, NewsWindow: 6 * time.Hour, NewsBaseline: 168 * time.Hour, SymbolParallel: 2},
		Ledger:     LedgerConfig{Window: 24 * time.Hour},
		Greeting:   GreetingConfig{Interval: 4 * time.Hour},
		MarketData: MarketDataConfig{BaseURL: "http://md", Timeout: time.Second, RateLimit: 1},
		Dispatch:   DispatchConfig{CharsPerSecond: 40, MinPause: time.Second, MaxPause: 2 * time.Second},
		Storage:    StorageConfig{DBPath: ":memory:"},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"poll interval too short", func(c *Config) { c.Scheduler.PollInterval = 30 * time.Second }, true},
		{"zero concurrency", func(c *Config) { c.Scheduler.UserConcurrency = 0 }, true},
		{"non-positive baseline", func(c *Config) { c.Detection.DefaultBaseline = 0 }, true},
		{"news baseline shorter than window", func(c *Config) { c.Detection.NewsBaseline = time.Hour }, true},
		{"ledger window too short", func(c *Config) { c.Ledger.Window = time.Minute }, true},
		{"nlg without key", func(c *Config) { c.NLG.Enabled = true; c.NLG.Model = "m" }, true},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }, true},
		{"telegram timeout too short", func(c *Config) {
			c.Telegram = TelegramConfig{Enabled: true, BotToken: "t", RequestTimeout: time.Second}
		}, true},
		{"telegram with timeout", func(c *Config) {
			c.Telegram = TelegramConfig{Enabled: true, BotToken: "t", RequestTimeout: 30 * time.Second}
		}, false},
		{"speech without key", func(c *Config) { c.Speech.Enabled = true }, true},
		{"pause bounds inverted", func(c *Config) { c.Dispatch.MaxPause = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
