package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockpulse/internal/adapters/ai"
	"stockpulse/internal/adapters/config"
	"stockpulse/internal/adapters/errors/noop"
	"stockpulse/internal/adapters/errors/sentry"
	"stockpulse/internal/adapters/kafka"
	"stockpulse/internal/adapters/marketdata/alphavantage"
	"stockpulse/internal/adapters/postgres"
	"stockpulse/internal/adapters/redis"
	"stockpulse/internal/adapters/retry"
	"stockpulse/internal/api"
	"stockpulse/internal/api/health"
	"stockpulse/internal/consumers"
	"stockpulse/internal/events"
	"stockpulse/internal/metrics"
	"stockpulse/internal/notifier"
	postgresrepo "stockpulse/internal/repository/postgres"
	redisrepo "stockpulse/internal/repository/redis"
	"stockpulse/internal/services/aggregator"
	"stockpulse/internal/services/analyzers"
	"stockpulse/internal/services/chat"
	"stockpulse/internal/services/fetcher"
	"stockpulse/internal/services/llm"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pgClient.Close()

	taskStore := redisrepo.NewTaskStore(redisClient.Client(), cfg.Analysis.TaskTTL)
	reports := postgresrepo.NewReportRepository(pgClient.DB())

	// Messaging
	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	defer producer.Close()
	publisher := events.NewPublisher(producer)

	// Notifications
	hub := notifier.NewHub()
	notifiers := notifier.Multi{hub}
	if cfg.Notifier.CallbackURL != "" {
		notifiers = append(notifiers, notifier.NewCallbackNotifier(cfg.Notifier))
	}

	// Services
	aggregatorSvc := aggregator.NewService(taskStore, reports, publisher, notifiers,
		log.With("service", "aggregator"))

	retryMW := retry.New(retry.Config{
		MaxRetries:   cfg.Analysis.FetchRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Strategy:     retry.StrategyExponential,
		Multiplier:   2.0,
	})
	market := alphavantage.NewClient(cfg.MarketData)
	fetcherSvc := fetcher.NewService(market, publisher, retryMW, log.With("service", "fetcher"))

	analyzerSvc := analyzers.NewService(cfg.Analysis, publisher, log.With("service", "analyzers"))

	registry := initAIRegistry(ctx, cfg, log)
	defaultProvider := ai.NormalizeProviderName(cfg.AI.DefaultProvider)

	llmSvc := llm.NewService(registry, defaultProvider, publisher, log.With("service", "llm"))
	chatSvc := chat.NewService(reports, registry, defaultProvider, log.With("service", "chat"))

	// Consumers
	aggregateConsumer := consumers.NewAggregateConsumer(
		newConsumer(cfg, kafka.TopicResults), aggregatorSvc, publisher, log)

	workConsumers := []*consumers.WorkConsumer{
		consumers.NewWorkConsumer("fetcher", newConsumer(cfg, kafka.TopicFetchRequests), fetcherSvc, publisher, log),
		consumers.NewWorkConsumer("ml_prediction", newConsumer(cfg, kafka.TopicMLPrediction), analyzerSvc, publisher, log),
		consumers.NewWorkConsumer("ml_technical", newConsumer(cfg, kafka.TopicMLTechnical), analyzerSvc, publisher, log),
		consumers.NewWorkConsumer("ml_sentiment", newConsumer(cfg, kafka.TopicMLSentiment), analyzerSvc, publisher, log),
		consumers.NewWorkConsumer("llm", newConsumer(cfg, kafka.TopicLLMAnalysis), llmSvc, publisher, log),
	}

	go func() {
		if err := aggregateConsumer.Start(ctx); err != nil {
			log.Errorf("Aggregate consumer stopped: %v", err)
		}
	}()
	for _, wc := range workConsumers {
		wc := wc
		go func() {
			if err := wc.Start(ctx); err != nil {
				log.Errorf("Work consumer stopped: %v", err)
			}
		}()
	}

	// HTTP API
	healthHandler := health.New(log, pgClient.DB(), redisClient.Client(), cfg.App.Name, cfg.API.Version)
	analysisHandler := api.NewAnalysisHandler(aggregatorSvc, log)
	chatHandler := api.NewChatHandler(chatSvc, log)
	server := api.NewServer(api.ServerConfig{
		Port:        cfg.API.Port,
		ServiceName: cfg.App.Name,
		Version:     cfg.API.Version,
	}, healthHandler, analysisHandler, chatHandler, hub, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	log.Info("System initialized successfully")

	waitForShutdown(ctx, cancel, server, errorTracker, log)
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// initAIRegistry builds the provider registry. Missing credentials are not
// fatal: the LLM stage emits degraded payloads when no provider is available,
// so fetch and statistical analysis keep working.
func initAIRegistry(ctx context.Context, cfg *config.Config, log *logger.Logger) *ai.ProviderRegistry {
	registry, err := ai.BuildRegistry(ctx, cfg.AI)
	if err != nil {
		log.Warnf("AI providers unavailable, LLM analysis will degrade: %v", err)
		return ai.NewProviderRegistry()
	}

	log.Infof("AI providers registered: %d", len(registry.List()))
	return registry
}

func newConsumer(cfg *config.Config, topic string) *kafka.Consumer {
	return kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   topic,
	})
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	server *api.Server,
	errorTracker errors.Tracker,
	log *logger.Logger,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP server shutdown: %v", err)
	}

	// Stop consumers
	cancel()

	if errorTracker != nil {
		if err := errorTracker.Flush(shutdownCtx); err != nil {
			log.Warnf("Failed to flush error tracker: %v", err)
		}
	}

	log.Info("Shutdown complete")
}
