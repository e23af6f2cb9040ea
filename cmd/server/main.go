package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/config"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/handlers"
	appMiddleware "github.com/dilipbglr/groupbuy-whatsapp-platform/internal/middleware"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := services.NewLogger(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.RequireDatabase(); err != nil {
		logger.Fatal(err)
	}

	// Initialize Database
	db, err := services.InitDB(cfg.DatabaseURL, cfg.DBLogLevel, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db, logger); err != nil {
		logger.Fatalf("Failed to run database migrations: %v", err)
	}
	store := services.NewGormDealStore(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	// Redis is optional: it enables the outbound queue, the sweep lock and the analytics cache
	var cache *services.RedisCache
	var redisPinger handlers.Pinger
	var queue *asynq.Client
	if cfg.RedisURL != "" {
		cache, err = services.NewRedisCache(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer cache.Close()
		redisPinger = cache

		opt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("Invalid REDIS_URL: %v", err)
		}
		queue = asynq.NewClient(opt)
		defer queue.Close()
	} else {
		logger.Warn("REDIS_URL not set, replies are sent in-process and analytics are not cached")
	}

	var messenger services.Messenger
	mode := "mock"
	switch {
	case queue != nil:
		messenger, mode = services.NewQueueMessenger(queue), "queue"
	case cfg.MessagingEnabled():
		messenger, mode = services.NewWahaService(wahaConfig(cfg), nil), "waha"
	default:
		messenger = services.NewLogMessenger(logger)
	}
	async := services.NewAsyncMessenger(messenger, logger)

	replies := services.NewReplies(cfg.CurrencySymbol)
	lifecycleOpts := []services.LifecycleOption{
		services.WithConcurrency(cfg.SweepConcurrency),
		services.WithMetrics(metrics),
	}
	if cache != nil {
		lifecycleOpts = append(lifecycleOpts, services.WithLocker(cache))
	}

	joinService := services.NewJoinService(store, logger, metrics)
	chatService := services.NewChatService(joinService, store, replies, cfg.ChannelPrefix, cfg.DealListLimit, logger)
	dealService := services.NewDealService(store, logger)
	lifecycle := services.NewLifecycleService(store, messenger, replies, logger, lifecycleOpts...)
	analytics := services.NewAnalyticsService(store, cache)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = appMiddleware.CustomErrorHandler(logger)

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(appMiddleware.RequestLogger(logger))
	e.Use(middleware.Recover())

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(chatService, async, cfg.ChannelPrefix, cfg.IsTestSender, logger)
	dealHandler := handlers.NewDealHandler(dealService, joinService, lifecycle, analytics, tasks.NewScheduler(db), logger)
	healthHandler := handlers.NewHealthHandler(cfg.Env, store, redisPinger, mode)

	// WhatsApp webhook
	e.POST("/webhook/whatsapp", webhookHandler.HandleWebhook)
	e.POST("/whatsapp/webhook", webhookHandler.HandleWebhook)

	// Admin API
	dealHandler.RegisterRoutes(e.Group("/api"))

	healthHandler.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	go func() {
		logger.WithFields(logrus.Fields{"port": cfg.Port, "messaging": mode}).Info("Server starting")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	async.Wait()
}

func wahaConfig(cfg *config.Config) services.WahaConfig {
	return services.WahaConfig{
		BaseURL:       cfg.WahaBaseURL,
		APIKey:        cfg.WahaAPIKey,
		Session:       cfg.WahaSession,
		CountryCode:   cfg.DefaultCountryCode,
		ChannelPrefix: cfg.ChannelPrefix,
		Humanize:      cfg.WahaHumanize,
	}
}
