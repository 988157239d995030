package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fleetgrid/internal/api"
	"fleetgrid/internal/audit"
	"fleetgrid/internal/config"
	"fleetgrid/internal/events"
	"fleetgrid/internal/metrics"
	"fleetgrid/internal/model"
	"fleetgrid/internal/overdue"
	"fleetgrid/internal/queue"
	"fleetgrid/internal/schedule"
)

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	// .env is optional, env vars referenced from the config file
	_ = godotenv.Load()

	configPath := os.Getenv("FLEETGRID_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	store, err := audit.NewStore(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open journal database error")
	}
	defer store.Close()

	client := schedule.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, logger)
	var rdb *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.CacheTTL > 0 {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		client.UseRedisCache(rdb, cfg.Redis.CacheTTL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	metrics.Register()

	if cfg.Queue.Enabled && cfg.Queue.URL != "" {
		publisher := queue.NewPublisher(cfg.Queue.URL, logger)
		publisher.Attach(bus)
		defer publisher.Close()
	}

	if cfg.Database.BackupPath != "" {
		backup := audit.NewBackupService(cfg.Database.Path, cfg.Database.BackupPath, 31, &logger)
		go backup.Start(ctx)
	}

	scanner := overdue.NewScanner(cfg.Overdue.ScanInterval, func() []model.Event {
		scanCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		now := time.Now()
		view, err := client.FetchScheduleView(scanCtx, now.AddDate(0, 0, -30), now.AddDate(0, 0, 1))
		if err != nil {
			logger.Warn().Err(err).Msg("overdue scan fetch failed")
			return nil
		}
		return view.Events
	}, bus, logger)
	go scanner.Start(ctx)

	server := api.NewServer(client, store, bus, cfg.Grid, logger)
	go func() {
		if err := server.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	logger.Info().Str("addr", cfg.Server.Addr).Msg("fleetgrid scheduler started")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	logger.Info().Msg("fleetgrid scheduler stopped")
}
