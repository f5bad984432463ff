package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Detection  DetectionConfig  `mapstructure:"detection"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Greeting   GreetingConfig   `mapstructure:"greeting"`
	MarketData MarketDataConfig `mapstructure:"marketdata"`
	Social     SocialConfig     `mapstructure:"social"`
	NLG        NLGConfig        `mapstructure:"nlg"`
	Speech     SpeechConfig     `mapstructure:"speech"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	API        APIConfig        `mapstructure:"api"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
}

// SchedulerConfig holds the poll cadence and per-tick concurrency
type SchedulerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	UserConcurrency int           `mapstructure:"user_concurrency"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// DetectionConfig holds volatility and news windows
type DetectionConfig struct {
	HistoryDays      int           `mapstructure:"history_days"`
	DefaultBaseline  float64       `mapstructure:"default_baseline"`
	NewsWindow       time.Duration `mapstructure:"news_window"`
	NewsBaseline     time.Duration `mapstructure:"news_baseline"`
	SymbolParallel   int           `mapstructure:"symbol_parallelism"`
	BenchmarkSymbols []string      `mapstructure:"benchmark_symbols"`
}

// LedgerConfig holds the suppression window
type LedgerConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// GreetingConfig holds greeting cadence and optional Redis state
type GreetingConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// MarketDataConfig holds the quote/history/news provider configuration
type MarketDataConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelayBase  time.Duration `mapstructure:"retry_delay_base"`
	DefaultExchange string        `mapstructure:"default_exchange"` // AAPL -> AAPL.US
}

// SocialConfig holds the social mentions provider configuration
type SocialConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

// NLGConfig holds the text generation service configuration
type NLGConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   float64       `mapstructure:"rate_limit"`
}

// SpeechConfig holds the speech synthesis configuration
type SpeechConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	Voice     string        `mapstructure:"voice"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

// DispatchConfig holds pacing between long-form segments
type DispatchConfig struct {
	CharsPerSecond float64       `mapstructure:"chars_per_second"`
	MinPause       time.Duration `mapstructure:"min_pause"`
	MaxPause       time.Duration `mapstructure:"max_pause"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// APIConfig holds the HTTP API configuration
type APIConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ListenAddr    string        `mapstructure:"listen_addr"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	CheckTimeout  time.Duration `mapstructure:"check_timeout"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath         string        `mapstructure:"db_path"`
	AudioRetention time.Duration `mapstructure:"audio_retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SentryConfig holds error tracking configuration
type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// STOCKPULSE_TELEGRAM_BOT_TOKEN overrides telegram.bot_token
	v.SetEnvPrefix("STOCKPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.poll_interval", "5m")
	v.SetDefault("scheduler.sweep_interval", "1h")
	v.SetDefault("scheduler.user_concurrency", 4)
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("detection.history_days", 20)
	v.SetDefault("detection.default_baseline", 2.0)
	v.SetDefault("detection.news_window", "6h")
	v.SetDefault("detection.news_baseline", "168h")
	v.SetDefault("detection.symbol_parallelism", 4)
	v.SetDefault("detection.benchmark_symbols", []string{"SPY", "QQQ"})

	v.SetDefault("ledger.window", "24h")

	v.SetDefault("greeting.interval", "4h")
	v.SetDefault("greeting.redis_addr", "")
	v.SetDefault("greeting.redis_db", 0)

	v.SetDefault("marketdata.base_url", "https://eodhd.com/api")
	v.SetDefault("marketdata.api_key", "")
	v.SetDefault("marketdata.timeout", "15s")
	v.SetDefault("marketdata.rate_limit", 5.0)
	v.SetDefault("marketdata.max_retries", 3)
	v.SetDefault("marketdata.retry_delay_base", "1s")
	v.SetDefault("marketdata.default_exchange", "US")

	v.SetDefault("social.enabled", true)
	v.SetDefault("social.base_url", "https://api.stocktwits.com/api/2")
	v.SetDefault("social.timeout", "10s")
	v.SetDefault("social.rate_limit", 2.0)

	v.SetDefault("nlg.enabled", true)
	v.SetDefault("nlg.api_key", "")
	v.SetDefault("nlg.base_url", "")
	v.SetDefault("nlg.model", "gpt-4o-mini")
	v.SetDefault("nlg.temperature", 0.4)
	v.SetDefault("nlg.timeout", "30s")
	v.SetDefault("nlg.rate_limit", 2.0)

	v.SetDefault("speech.enabled", false)
	v.SetDefault("speech.api_key", "")
	v.SetDefault("speech.base_url", "https://api.openai.com/v1")
	v.SetDefault("speech.model", "tts-1")
	v.SetDefault("speech.voice", "alloy")
	v.SetDefault("speech.timeout", "30s")
	v.SetDefault("speech.rate_limit", 1.0)

	v.SetDefault("dispatch.chars_per_second", 40.0)
	v.SetDefault("dispatch.min_pause", "2s")
	v.SetDefault("dispatch.max_pause", "8s")
	v.SetDefault("dispatch.send_timeout", "20s")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.rate_limit", 20.0)
	v.SetDefault("telegram.request_timeout", "30s")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.public_base_url", "http://localhost:8080")
	v.SetDefault("api.check_timeout", "2m")

	v.SetDefault("storage.db_path", "./data/stockpulse.db")
	v.SetDefault("storage.audio_retention", "168h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Scheduler.PollInterval < 1*time.Minute {
		return fmt.Errorf("scheduler.poll_interval must be at least 1 minute")
	}
	if c.Scheduler.SweepInterval < 1*time.Minute {
		return fmt.Errorf("scheduler.sweep_interval must be at least 1 minute")
	}
	if c.Scheduler.UserConcurrency < 1 {
		return fmt.Errorf("scheduler.user_concurrency must be at least 1")
	}

	if c.Detection.HistoryDays < 2 {
		return fmt.Errorf("detection.history_days must be at least 2")
	}
	if c.Detection.DefaultBaseline <= 0 {
		return fmt.Errorf("detection.default_baseline must be positive")
	}
	if c.Detection.NewsWindow <= 0 || c.Detection.NewsBaseline <= c.Detection.NewsWindow {
		return fmt.Errorf("detection.news_baseline must be longer than detection.news_window")
	}
	if c.Detection.SymbolParallel < 1 {
		return fmt.Errorf("detection.symbol_parallelism must be at least 1")
	}

	if c.Ledger.Window < 1*time.Hour {
		return fmt.Errorf("ledger.window must be at least 1 hour")
	}
	if c.Greeting.Interval <= 0 {
		return fmt.Errorf("greeting.interval must be positive")
	}

	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("marketdata.base_url is required")
	}
	if c.MarketData.Timeout <= 0 {
		return fmt.Errorf("marketdata.timeout must be positive")
	}
	if c.MarketData.RateLimit <= 0 {
		return fmt.Errorf("marketdata.rate_limit must be positive")
	}
	if c.Social.Enabled && c.Social.BaseURL == "" {
		return fmt.Errorf("social.base_url is required when social is enabled")
	}

	if c.NLG.Enabled {
		if c.NLG.APIKey == "" {
			return fmt.Errorf("nlg.api_key is required when nlg is enabled")
		}
		if c.NLG.Model == "" {
			return fmt.Errorf("nlg.model is required when nlg is enabled")
		}
	}
	if c.Speech.Enabled && c.Speech.APIKey == "" {
		return fmt.Errorf("speech.api_key is required when speech is enabled")
	}

	if c.Dispatch.CharsPerSecond <= 0 {
		return fmt.Errorf("dispatch.chars_per_second must be positive")
	}
	if c.Dispatch.MaxPause < c.Dispatch.MinPause {
		return fmt.Errorf("dispatch.max_pause must be >= dispatch.min_pause")
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}
	if c.Telegram.Enabled && c.Telegram.RequestTimeout < 10*time.Second {
		return fmt.Errorf("telegram.request_timeout must be at least 10 seconds")
	}

	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required when api is enabled")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
