package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rewired-gh/stockpulse/internal/aggregator"
	"github.com/rewired-gh/stockpulse/internal/api"
	"github.com/rewired-gh/stockpulse/internal/composer"
	"github.com/rewired-gh/stockpulse/internal/config"
	"github.com/rewired-gh/stockpulse/internal/dispatch"
	"github.com/rewired-gh/stockpulse/internal/fetcher"
	"github.com/rewired-gh/stockpulse/internal/ledger"
	"github.com/rewired-gh/stockpulse/internal/logger"
	"github.com/rewired-gh/stockpulse/internal/marketdata"
	"github.com/rewired-gh/stockpulse/internal/metrics"
	"github.com/rewired-gh/stockpulse/internal/monitor"
	"github.com/rewired-gh/stockpulse/internal/nlg"
	"github.com/rewired-gh/stockpulse/internal/pipeline"
	"github.com/rewired-gh/stockpulse/internal/scheduler"
	"github.com/rewired-gh/stockpulse/internal/social"
	"github.com/rewired-gh/stockpulse/internal/storage"
	"github.com/rewired-gh/stockpulse/internal/telegram"
	"github.com/rewired-gh/stockpulse/internal/tracking"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Secrets may come from a local .env; a missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	if err := tracking.Init(cfg.Sentry.DSN, cfg.Sentry.Environment); err != nil {
		logger.Warn("Error tracking disabled: %v", err)
	}
	defer tracking.Flush(2 * time.Second)
	metrics.Register()

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	market := marketdata.NewClient(cfg.MarketData.BaseURL, cfg.MarketData.APIKey, marketdata.ClientConfig{
		Timeout:         cfg.MarketData.Timeout,
		RateLimit:       cfg.MarketData.RateLimit,
		MaxRetries:      cfg.MarketData.MaxRetries,
		RetryDelayBase:  cfg.MarketData.RetryDelayBase,
		DefaultExchange: cfg.MarketData.DefaultExchange,
	})

	var socialSource fetcher.SocialSource
	if cfg.Social.Enabled {
		socialSource = social.NewClient(cfg.Social.BaseURL, cfg.Social.Timeout, cfg.Social.RateLimit)
	} else {
		logger.Debug("Social context disabled")
	}

	var generator composer.Generator
	if cfg.NLG.Enabled {
		gen, err := nlg.NewGenerator(nlg.GeneratorConfig{
			APIKey:      cfg.NLG.APIKey,
			BaseURL:     cfg.NLG.BaseURL,
			Model:       cfg.NLG.Model,
			Temperature: cfg.NLG.Temperature,
			Timeout:     cfg.NLG.Timeout,
			RateLimit:   cfg.NLG.RateLimit,
		})
		if err != nil {
			logger.Fatal("Failed to initialize text generator: %v", err)
		}
		generator = gen
	} else {
		logger.Info("Text generation disabled, using built-in templates")
	}

	var speaker dispatch.Synthesizer
	if cfg.Speech.Enabled {
		sp, err := nlg.NewSpeaker(nlg.SpeechConfig{
			APIKey:    cfg.Speech.APIKey,
			BaseURL:   cfg.Speech.BaseURL,
			Model:     cfg.Speech.Model,
			Voice:     cfg.Speech.Voice,
			Timeout:   cfg.Speech.Timeout,
			RateLimit: cfg.Speech.RateLimit,
		})
		if err != nil {
			logger.Fatal("Failed to initialize speech synthesis: %v", err)
		}
		speaker = sp
	}

	var greetings aggregator.GreetingTracker = aggregator.NewMemoryTracker()
	if cfg.Greeting.RedisAddr != "" {
		rt, err := aggregator.NewRedisTracker(ctx, cfg.Greeting.RedisAddr, cfg.Greeting.RedisPassword,
			cfg.Greeting.RedisDB, 2*cfg.Greeting.Interval)
		if err != nil {
			logger.Warn("Redis greeting state unavailable, falling back to memory: %v", err)
		} else {
			defer func() { _ = rt.Close() }()
			greetings = rt
		}
	}

	var telegramClient *telegram.Client
	var chat dispatch.ChatSender
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, telegram.Options{
			MaxRetries:     cfg.Telegram.MaxRetries,
			RetryDelayBase: cfg.Telegram.RetryDelayBase,
			RateLimit:      cfg.Telegram.RateLimit,
			RequestTimeout: cfg.Telegram.RequestTimeout,
		})
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		chat = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	fetch := fetcher.New(market, market, socialSource, fetcher.Config{
		Timeout:          cfg.MarketData.Timeout,
		NewsWindow:       cfg.Detection.NewsWindow,
		NewsBaseline:     cfg.Detection.NewsBaseline,
		BenchmarkSymbols: cfg.Detection.BenchmarkSymbols,
	})
	dedup := ledger.New(store, cfg.Ledger.Window)

	proc := pipeline.New(pipeline.Deps{
		Store:      store,
		Context:    fetch,
		Baseline:   monitor.NewEstimator(market, cfg.Detection.HistoryDays, cfg.Detection.DefaultBaseline, cfg.MarketData.Timeout),
		Classifier: monitor.NewClassifier(monitor.DefaultThresholds()),
		Aggregator: aggregator.New(dedup, greetings, cfg.Greeting.Interval),
		Composer:   composer.New(generator),
		Dispatcher: dispatch.New(chat, speaker, store, dispatch.Config{
			CharsPerSecond: cfg.Dispatch.CharsPerSecond,
			MinPause:       cfg.Dispatch.MinPause,
			MaxPause:       cfg.Dispatch.MaxPause,
			SendTimeout:    cfg.Dispatch.SendTimeout,
			PublicBaseURL:  cfg.API.PublicBaseURL,
		}),
		Ledger: dedup,
	}, cfg.Detection.SymbolParallel)

	sched := scheduler.New(store, proc, dedup, store, scheduler.Config{
		PollInterval:    cfg.Scheduler.PollInterval,
		SweepInterval:   cfg.Scheduler.SweepInterval,
		UserConcurrency: cfg.Scheduler.UserConcurrency,
		RunOnStart:      cfg.Scheduler.RunOnStart,
		AudioRetention:  cfg.Storage.AudioRetention,
	})

	var server *api.Server
	if cfg.API.Enabled {
		server = api.New(proc, store, api.Config{
			ListenAddr:   cfg.API.ListenAddr,
			CheckTimeout: cfg.API.CheckTimeout,
		})
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("HTTP API stopped: %v", err)
				cancel()
			}
		}()
	}

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, guardedCheck(proc, cfg.API.CheckTimeout))
	}

	if err := sched.Start(); err != nil {
		logger.Fatal("Failed to start scheduler: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, cleaning up...")
	case <-ctx.Done():
	}

	sched.Stop()
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP API shutdown: %v", err)
		}
		shutdownCancel()
	}
	cancel()
	logger.Info("Service stopped")
}

// guardedCheck bounds a /check command and turns a panic into an error reply.
func guardedCheck(proc *pipeline.Pipeline, timeout time.Duration) telegram.CheckFunc {
	return func(ctx context.Context, chatID int64) (reply string, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("manual check from chat %d panicked: %v\n%s", chatID, r, debug.Stack())
				tracking.CapturePanic(r, fmt.Sprintf("chat:%d", chatID))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return proc.CheckChat(ctx, chatID)
	}
}
