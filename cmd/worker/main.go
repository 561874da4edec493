package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jnsystems/sms-gateway/internal/adapter/postgres"
	"github.com/jnsystems/sms-gateway/internal/adapter/provider"
	"github.com/jnsystems/sms-gateway/internal/adapter/queue"
	"github.com/jnsystems/sms-gateway/internal/adapter/ws"
	"github.com/jnsystems/sms-gateway/internal/app"
	"github.com/jnsystems/sms-gateway/pkg/config"
	"github.com/jnsystems/sms-gateway/pkg/logger"
	"github.com/jnsystems/sms-gateway/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.InitTracer(ctx, "sms-gateway-worker", cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("failed to initialize tracer, continuing without tracing", zap.Error(err))
	} else {
		defer func() { _ = tp.Shutdown(ctx) }()
	}

	db, err := postgres.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	messageRepo := postgres.NewMessageRepo(db)
	wsHub := ws.NewHub()
	metricsCollector := app.NewMetricsCollector(messageRepo)

	registry := provider.NewRegistry(cfg.SMSProvider, log)
	registry.Register(provider.NewTwilio(provider.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioPhoneNumber,
	}))
	registry.Register(provider.NewMessageBird(provider.MessageBirdConfig{
		APIKey:     cfg.MessageBirdAPIKey,
		Originator: cfg.MessageBirdOriginator,
	}))

	dispatchService := app.NewDispatchService(
		messageRepo,
		registry,
		wsHub,
		metricsCollector,
		log,
	)

	schedulerProducer := queue.NewProducer(cfg.KafkaBrokers)
	defer func() { _ = schedulerProducer.Close() }()

	scheduler := app.NewScheduler(messageRepo, schedulerProducer, log)
	go scheduler.Run(ctx)

	consumer := queue.NewConsumer(queue.ConsumerConfig{
		Brokers:       cfg.KafkaBrokers,
		Group:         cfg.KafkaConsumerGroup,
		RatePerSecond: cfg.RateLimitPerSecond,
		Logger:        log,
	})

	go func() {
		log.Info("starting kafka consumer",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("group", cfg.KafkaConsumerGroup),
		)
		if err := consumer.Start(ctx, dispatchService.ProcessDispatch); err != nil {
			if ctx.Err() == nil {
				log.Error("consumer stopped unexpectedly", zap.Error(err))
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()

	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Error("consumer shutdown error", zap.Error(err))
	}

	log.Info("worker stopped")
}
