package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alia-labs/lab-intake-platform/internal/http/handlers"
	httpmiddleware "github.com/alia-labs/lab-intake-platform/internal/http/middleware"
	"github.com/alia-labs/lab-intake-platform/internal/observability/metrics"
	"github.com/alia-labs/lab-intake-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	Webhook        *handlers.WebhookHandler
	Metrics        *metrics.IntakeMetrics
	MetricsHandler http.Handler
}

// New creates the Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.Metrics))
	}

	r.Get("/health", cfg.Webhook.Health)
	r.Post("/webhook/twilio", cfg.Webhook.Twilio)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	return r
}
