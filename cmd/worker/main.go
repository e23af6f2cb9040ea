package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/config"
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

	// The worker always delivers directly; it is the consumer of the outbound queue
	var messenger services.Messenger = services.NewLogMessenger(logger)
	if cfg.MessagingEnabled() {
		messenger = services.NewWahaService(services.WahaConfig{
			BaseURL:       cfg.WahaBaseURL,
			APIKey:        cfg.WahaAPIKey,
			Session:       cfg.WahaSession,
			CountryCode:   cfg.DefaultCountryCode,
			ChannelPrefix: cfg.ChannelPrefix,
			Humanize:      cfg.WahaHumanize,
		}, nil)
	}

	lifecycleOpts := []services.LifecycleOption{services.WithConcurrency(cfg.SweepConcurrency)}
	var cache *services.RedisCache
	if cfg.RedisURL != "" {
		cache, err = services.NewRedisCache(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer cache.Close()
		lifecycleOpts = append(lifecycleOpts, services.WithLocker(cache))
	}
	lifecycle := services.NewLifecycleService(store, messenger, services.NewReplies(cfg.CurrencySymbol), logger, lifecycleOpts...)

	// Initialize Task Registry
	scheduler := tasks.NewScheduler(db)
	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry, tasks.Dependencies{
		Lifecycle: lifecycle,
		Store:     store,
		Messenger: messenger,
		Scheduler: scheduler,
		Logger:    logger,
	})

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, name := range []string{tasks.TaskFinalizeExpiredDeals, tasks.TaskActivateScheduledDeals} {
		task, created, err := scheduler.EnsureRecurring(ctx, name, cfg.SweepRRule, 1)
		if err != nil {
			logger.Fatalf("Failed to schedule %s: %v", name, err)
		}
		logger.WithFields(logrus.Fields{"task": name, "created": created, "due": task.Due}).Info("recurring task ready")
	}

	var queueServer *asynq.Server
	if cfg.RedisURL != "" {
		opt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("Invalid REDIS_URL: %v", err)
		}
		queueServer = asynq.NewServer(opt, asynq.Config{
			Concurrency: 10,
			Queues:      map[string]int{services.OutboundQueue: 1},
			Logger:      logger,
		})
		mux := services.NewOutboundServeMux(services.NewOutboundHandler(messenger, logger))
		if err := queueServer.Start(mux); err != nil {
			logger.Fatalf("Failed to start outbound queue consumer: %v", err)
		}
		logger.Info("Outbound queue consumer started")
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down worker...")
		cancel()
	}()

	runner := tasks.NewRunner(db, registry, logger)
	ticker := time.NewTicker(cfg.WorkerPollInterval)
	defer ticker.Stop()

	logger.WithField("poll_interval", cfg.WorkerPollInterval.String()).Info("Worker started")
	processDue(ctx, runner, logger)

	for {
		select {
		case <-ticker.C:
			processDue(ctx, runner, logger)
		case <-ctx.Done():
			if queueServer != nil {
				queueServer.Shutdown()
			}
			return
		}
	}
}

func processDue(ctx context.Context, runner *tasks.Runner, logger logrus.FieldLogger) {
	n, err := runner.ProcessDue(ctx)
	if err != nil {
		logger.WithError(err).Error("Error processing scheduled tasks")
		return
	}
	if n > 0 {
		logger.WithField("count", n).Info("Processed scheduled tasks")
	}
}
