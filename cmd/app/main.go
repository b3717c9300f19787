package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boardgame-bot/internal/cache"
	"boardgame-bot/internal/config"
	"boardgame-bot/internal/convo"
	"boardgame-bot/internal/engine"
	"boardgame-bot/internal/httpserver"
	"boardgame-bot/internal/logging"
	"boardgame-bot/internal/metrics"
	"boardgame-bot/internal/notify"
	"boardgame-bot/internal/repo"
	"boardgame-bot/internal/scheduler"
	"boardgame-bot/internal/stats"
	"boardgame-bot/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting boardgame-bot", "env", cfg.AppEnv, "driver", cfg.DatabaseDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	var store repo.Store
	switch cfg.DatabaseDriver {
	case "postgres":
		store, err = repo.NewPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	default:
		store, err = repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	}
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	var redisClient *cache.Redis
	if cfg.RedisAddr != "" {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
	}

	var sender notify.Sender
	var telegramClient *notify.Telegram
	if cfg.TelegramToken != "" {
		telegramClient, err = notify.NewTelegram(notify.Config{
			Token:   cfg.TelegramToken,
			Debug:   cfg.TelegramDebug,
			Metrics: metricRegistry,
		}, logger)
		if err != nil {
			return fmt.Errorf("init telegram client: %w", err)
		}
		defer telegramClient.Close()
		sender = telegramClient
	} else {
		logger.Warn("no telegram token configured, logging outgoing messages instead")
		sender = notify.NewLogSender(logger)
	}

	eng := engine.New(store, sender, metricRegistry, logger, engine.Config{
		AdminChatIDs:   cfg.AdminChatIDs,
		ReferralPrefix: cfg.ReferralPrefix,
	})
	if err := eng.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("seed defaults: %w", err)
	}

	statsService := stats.New(store, redisClient, metricRegistry, logger)
	eng.SetSettingsHook(func(ctx context.Context) {
		statsService.Invalidate(ctx)
	})

	sessions := convo.NewManager(cfg.SessionTTL, logger)
	go sessions.Run(ctx)

	sched := scheduler.New(eng, statsService, sender, metricRegistry, logger, scheduler.Config{
		Interval:     cfg.SchedulerInterval,
		ReportHour:   cfg.ReportHour,
		AdminChatIDs: cfg.AdminChatIDs,
	})
	go sched.Run(ctx)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, cfg.PublicBasePath)
	httpSrv.SetDependencies(httpserver.Dependencies{
		Store: store,
		Stats: statsService,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
