package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/junobot/juno/internal/api/router"
	"github.com/junobot/juno/internal/broadcast"
	"github.com/junobot/juno/internal/classify"
	appconfig "github.com/junobot/juno/internal/config"
	"github.com/junobot/juno/internal/conversation"
	"github.com/junobot/juno/internal/observability/metrics"
	"github.com/junobot/juno/internal/persona"
	"github.com/junobot/juno/internal/registry"
	"github.com/junobot/juno/internal/telegram"
	"github.com/junobot/juno/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting juno bot",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.TelegramBotToken == "" {
		logger.Error("TELEGRAM_BOT_TOKEN is required")
		os.Exit(1)
	}
	if len(cfg.GeminiAPIKeys) == 0 {
		logger.Error("GEMINI_API_KEYS is required")
		os.Exit(1)
	}

	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		logger.Error("failed to load persona", "file", cfg.PersonaFile, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewRelayMetrics(nil)

	reg := buildRegistry(ctx, cfg, logger)

	llm, err := conversation.NewGeminiClient(ctx, cfg.GeminiAPIKeys, cfg.GeminiModelID, logger)
	if err != nil {
		logger.Error("failed to init gemini client", "error", err)
		os.Exit(1)
	}
	defer func() { _ = llm.Close() }()

	composer, err := conversation.NewComposer(p, int32(cfg.GeminiMaxToken))
	if err != nil {
		logger.Error("invalid persona configuration", "error", err)
		os.Exit(1)
	}

	contexts := conversation.NewContextStore(cfg.ContextMaxTurns, cfg.ContextTimeout)
	sender := telegram.NewSender(cfg.TelegramBotToken, logger)

	tracker := broadcast.NewTracker(reg, sender, logger,
		broadcast.WithConcurrency(cfg.BroadcastConcurrency),
		broadcast.WithBatch(cfg.BroadcastBatchSize, cfg.BroadcastBatchDelay),
		broadcast.WithMetrics(m),
	)

	svc := conversation.NewService(conversation.ServiceDeps{
		Contexts:    contexts,
		Classifier:  classify.New(cfg.DefaultLanguage),
		Composer:    composer,
		Sanitizer:   conversation.NewSanitizer(nil, p.SanitizerFiller, cfg.PrivateReplyLimit, cfg.GroupReplyLimit),
		Breaker:     conversation.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, cfg.GeminiTimeout),
		LLM:         llm,
		Persona:     p,
		Registry:    reg,
		Broadcaster: tracker,
		Metrics:     m,
		Logger:      logger,
		OwnerChatID: cfg.OwnerChatID,
		BotUsername: cfg.TelegramBotUsername,
	})

	queue := conversation.NewMemoryQueue(256)
	worker := conversation.NewWorker(svc, queue, sender, contexts, m, logger,
		conversation.WithSweepInterval(cfg.ContextSweepEvery),
	)
	worker.Start(ctx)

	webhook := telegram.NewHandler(conversation.NewPublisher(queue), reg, cfg.TelegramWebhookSecret, cfg.TelegramBotUsername, logger)
	handler := router.New(&router.Config{
		Logger:         logger,
		WebhookHandler: webhook,
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("juno bot listening", "addr", srv.Addr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	stop()
	worker.Wait()
	logger.Info("shutdown complete")
}

// buildRegistry picks the redis-backed registry when configured and falls back
// to the in-memory one for local runs.
func buildRegistry(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) registry.Registry {
	if cfg.RedisAddr == "" {
		logger.Info("recipient registry: in-memory (no REDIS_ADDR set)")
		return registry.NewMemoryRegistry()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}

	logger.Info("recipient registry: redis", "addr", cfg.RedisAddr)
	return registry.NewRedisRegistry(client, nil)
}
