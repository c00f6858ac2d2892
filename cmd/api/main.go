package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/alia-labs/lab-intake-platform/internal/api/router"
	appconfig "github.com/alia-labs/lab-intake-platform/internal/config"
	"github.com/alia-labs/lab-intake-platform/internal/extract"
	"github.com/alia-labs/lab-intake-platform/internal/http/handlers"
	"github.com/alia-labs/lab-intake-platform/internal/intake"
	"github.com/alia-labs/lab-intake-platform/internal/llm"
	"github.com/alia-labs/lab-intake-platform/internal/notify"
	"github.com/alia-labs/lab-intake-platform/internal/observability/metrics"
	"github.com/alia-labs/lab-intake-platform/internal/records"
	"github.com/alia-labs/lab-intake-platform/internal/schedule"
	"github.com/alia-labs/lab-intake-platform/internal/session"
	"github.com/alia-labs/lab-intake-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting lab-intake-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	sessionStore := session.NewRedisStore(redisClient, cfg.SessionTTL)

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := db.Ping(); err != nil {
			logger.Error("database unreachable", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("DATABASE_URL not set, appointment records disabled")
	}
	recordStore := records.NewStore(db)

	rules, err := schedule.LoadRules(cfg.SchedulingRulesPath)
	if err != nil {
		logger.Warn("scheduling rules file unavailable, using built-in defaults",
			"path", cfg.SchedulingRulesPath, "error", err)
		rules = schedule.DefaultRules()
	}
	scheduler := schedule.NewEngine(rules, recordStore, logger)

	llmClient, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, llm.Config{
		Model:      cfg.OpenAIModel,
		Timeout:    cfg.LLMTimeout,
		MaxRetries: cfg.LLMMaxRetries,
		Backoff:    cfg.LLMRetryBackoff,
	}, logger)
	if err != nil {
		logger.Error("failed to create language model client", "error", err)
		os.Exit(1)
	}

	ocrClient, err := extract.NewOCRClient(extract.OCRConfig{
		BaseURL:    cfg.OCRBaseURL,
		Timeout:    cfg.OCRTimeout,
		MaxRetries: cfg.OCRMaxRetries,
		Backoff:    cfg.OCRRetryBackoff,
	}, logger)
	if err != nil {
		logger.Error("failed to create OCR client", "error", err)
		os.Exit(1)
	}

	pipeline := extract.NewPipeline(ocrClient, extract.NewLLMExtractor(llmClient, logger), extract.PipelineConfig{
		MaxImageDimension: cfg.MaxImageDimension,
		MaxFailures:       cfg.ExtractionMaxFailures,
	}, logger)
	synthesizer := extract.NewSynthesizer(llmClient, redisClient, cfg.InstructionCacheTTL, logger)

	var emailSender notify.EmailSender
	if sender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sender != nil {
		emailSender = sender
	}
	gateway := notify.NewGateway(notify.GatewayConfig{
		WebhookURL:    cfg.OperatorWebhookURL,
		OperatorEmail: cfg.OperatorEmail,
	}, emailSender, logger)

	intakeMetrics := metrics.NewIntakeMetrics(nil)

	engine := intake.NewEngine(intake.EngineConfig{
		Store:    sessionStore,
		Pipeline: pipeline,
		Synth:    synthesizer,
		Sched:    scheduler,
		Sink:     recordStore,
		Gateway:  gateway,
		Answerer: llmClient,
		Metrics:  intakeMetrics,
		Logger:   logger,
	})

	webhookHandler := handlers.NewWebhookHandler(
		engine,
		handlers.NewTwilioMediaClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken),
		handlers.WebhookConfig{
			AuthToken:     cfg.TwilioAuthToken,
			PublicBaseURL: cfg.PublicBaseURL,
			Metrics:       intakeMetrics,
			Logger:        logger,
		},
	)

	r := router.New(&router.Config{
		Logger:         logger,
		Webhook:        webhookHandler,
		Metrics:        intakeMetrics,
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
