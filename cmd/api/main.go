package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	httpAdapter "github.com/jnsystems/sms-gateway/internal/adapter/http"
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

	tp, err := tracing.InitTracer(ctx, "sms-gateway", cfg.JaegerEndpoint)
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

	runMigrations(cfg.DatabaseURL, log)

	messageRepo := postgres.NewMessageRepo(db)
	producer := queue.NewProducer(cfg.KafkaBrokers)
	defer func() { _ = producer.Close() }()
	wsHub := ws.NewHub()

	registry := buildRegistry(cfg, log)

	messageService := app.NewMessageService(messageRepo, producer, registry, log)
	metricsCollector := app.NewMetricsCollector(messageRepo)
	webhookService := app.NewWebhookService(messageRepo, registry, webhookSecrets(cfg), wsHub, log)

	router := httpAdapter.NewRouter(httpAdapter.RouterDeps{
		MessageHandler:   httpAdapter.NewMessageHandler(messageService),
		WebhookHandler:   httpAdapter.NewWebhookHandler(webhookService, cfg.WebhookBaseURL),
		ProviderHandler:  httpAdapter.NewProviderHandler(registry),
		HealthHandler:    httpAdapter.NewHealthHandler(db, cfg.KafkaBrokers),
		MetricsHandler:   httpAdapter.NewMetricsHandler(metricsCollector),
		WebSocketHandler: httpAdapter.NewWebSocketHandler(wsHub),
		Logger:           log,
		RateLimit:        cfg.RateLimitPerSecond,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting http server", zap.String("port", cfg.AppPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func buildRegistry(cfg *config.Config, log *zap.Logger) *provider.Registry {
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
	return registry
}

func webhookSecrets(cfg *config.Config) map[string]string {
	// Twilio signs callbacks with the account auth token; MessageBird uses a
	// dedicated signing key.
	return map[string]string{
		"twilio":      cfg.TwilioAuthToken,
		"messagebird": cfg.MessageBirdWebhookSecret,
	}
}

func runMigrations(databaseURL string, log *zap.Logger) {
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		log.Warn("failed to create migrator", zap.Error(err))
		return
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Warn("migration failed", zap.Error(err))
		return
	}

	log.Info("database migrations applied")
}
