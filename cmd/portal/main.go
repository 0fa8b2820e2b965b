package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mroshb/clan_portal/internal/cache"
	"github.com/mroshb/clan_portal/internal/config"
	"github.com/mroshb/clan_portal/internal/database"
	"github.com/mroshb/clan_portal/internal/events"
	"github.com/mroshb/clan_portal/internal/handlers"
	"github.com/mroshb/clan_portal/internal/metrics"
	"github.com/mroshb/clan_portal/internal/middleware"
	"github.com/mroshb/clan_portal/internal/notify"
	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/internal/services"
	"github.com/mroshb/clan_portal/pkg/logger"
	"github.com/mroshb/clan_portal/telegram"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	logger.Init()
	defer logger.Sync()

	logger.Info("Starting clan portal...")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", err)
	}
	if err := cfg.ValidateProductionSecurity(); err != nil {
		logger.Fatal("Production security validation failed", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to run migrations", err)
	}
	if err := database.SeedRoles(db); err != nil {
		logger.Fatal("Failed to seed roles", err)
	}

	metrics.MustRegister()

	store := repositories.NewStore(db)

	var census services.CensusCache
	if rdb := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); rdb != nil {
		defer rdb.Close()
		census = cache.NewCensusCache(rdb, cfg.GetCensusCacheTTL())
	}

	dispatcher := notify.NewDispatcher(store.Outbox, notify.Options{
		PollInterval:    cfg.GetOutboxPollInterval(),
		DeliveryTimeout: cfg.GetOutboxDeliveryTimeout(),
		Backoff:         cfg.GetOutboxBackoff(),
		MaxAttempts:     cfg.OutboxMaxAttempts,
	})

	directory := services.NewDirectoryService(store, census)
	ledger := services.NewApplicationService(store, dispatcher, census, services.LedgerOptions{
		StrictCapacity: cfg.StrictCapacity,
	})
	users := services.NewUserService(store, services.UserOptions{
		JWTSecret:            cfg.JWTSecret,
		TokenTTL:             cfg.GetTokenTTL(),
		SuperAdminTelegramID: cfg.SuperAdminTgID,
		PublicURL:            cfg.PublicURL,
	})
	settings := services.NewSettingsService(store)
	authority := services.NewReviewService(ledger, directory, users, settings)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerUser, cfg.RateLimitPerIP, cfg.GetRateLimitWindow())
	defer limiter.Stop()

	bridge, err := telegram.InitBridge(cfg.BotToken, cfg.AppEnv == "development", telegram.Deps{
		Users:     users,
		Ledger:    ledger,
		Authority: authority,
		Settings:  settings,
		Limiter:   limiter,
	})
	if err != nil {
		logger.Fatal("Failed to initialize Telegram bridge", err)
	}
	if bridge != nil {
		dispatcher.RegisterSink("telegram", bridge)
	} else {
		logger.Warn("BOT_TOKEN not set, Telegram bridge disabled")
	}

	if cfg.AMQPURL != "" {
		sink := events.NewAMQPSink(cfg.AMQPURL, events.DefaultQueue)
		defer sink.Close()
		dispatcher.RegisterSink("amqp", sink)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)

	manager := handlers.NewHandlerManager(cfg, directory, ledger, users, settings, authority, limiter)
	server := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           manager.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if bridge != nil {
		bridge.Stop()
	}
	dispatcher.Stop()
	logger.Info("Portal stopped")
}
