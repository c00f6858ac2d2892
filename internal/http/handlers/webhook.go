package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/alia-labs/lab-intake-platform/internal/observability/metrics"
	"github.com/alia-labs/lab-intake-platform/pkg/logging"
)

var webhookTracer = otel.Tracer("labintake.internal.http.webhook")

const replyTechnicalIssue = "Disculpá, tuvimos un problema técnico. Probá de nuevo en unos minutos."

// ConversationEngine turns one inbound patient message into one reply.
type ConversationEngine interface {
	Handle(ctx context.Context, identity, text, imagePayload string) (string, error)
}

// WebhookHandler receives Twilio WhatsApp webhooks and answers with TwiML.
type WebhookHandler struct {
	engine        ConversationEngine
	media         MediaFetcher
	authToken     string
	publicBaseURL string
	metrics       *metrics.IntakeMetrics
	logger        *logging.Logger
}

// WebhookConfig carries the handler's collaborators and settings. AuthToken
// empty disables signature validation (local development only).
type WebhookConfig struct {
	AuthToken     string
	PublicBaseURL string
	Metrics       *metrics.IntakeMetrics
	Logger        *logging.Logger
}

func NewWebhookHandler(engine ConversationEngine, media MediaFetcher, cfg WebhookConfig) *WebhookHandler {
	if engine == nil {
		panic("handlers: conversation engine cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WebhookHandler{
		engine:        engine,
		media:         media,
		authToken:     cfg.AuthToken,
		publicBaseURL: cfg.PublicBaseURL,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

// Twilio handles POST /webhook/twilio requests.
func (h *WebhookHandler) Twilio(w http.ResponseWriter, r *http.Request) {
	ctx, span := webhookTracer.Start(r.Context(), "http.webhook.twilio")
	defer span.End()

	if h.authToken != "" {
		webhookURL := buildAbsoluteURL(r, h.publicBaseURL)
		if !ValidateTwilioSignature(r, h.authToken, webhookURL) {
			h.logger.Warn("invalid twilio signature", "remote_ip", r.RemoteAddr)
			span.RecordError(errors.New("invalid twilio signature"))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	msg, err := parseInbound(r)
	if err != nil {
		h.logger.Error("failed to parse twilio webhook", "error", err)
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if msg.From == "" {
		err := errors.New("missing From field")
		h.logger.Error("invalid twilio payload", "error", err)
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	identity := identityFor(msg.From)
	span.SetAttributes(
		attribute.String("labintake.twilio.message_sid", msg.MessageSid),
		attribute.String("labintake.identity", identity),
	)

	var imagePayload string
	if msg.MediaURL != "" && h.media != nil {
		imagePayload, err = h.media.Fetch(ctx, msg.MediaURL)
		if err != nil {
			// The engine re-prompts for the order when the image is absent.
			h.logger.Error("failed to fetch media attachment", "error", err, "identity", identity)
			span.RecordError(err)
		}
	}

	reply, err := h.engine.Handle(ctx, identity, msg.Body, imagePayload)
	if err != nil {
		h.logger.Error("conversation handling failed", "error", err, "identity", identity)
		span.RecordError(err)
		h.metrics.ObserveMessage("text", "error")
		writeTwiML(w, replyTechnicalIssue)
		return
	}
	writeTwiML(w, reply)
}

// Health returns a simple health check response.
func (h *WebhookHandler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeTwiML(w http.ResponseWriter, message string) {
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(message))

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Response><Message>` +
		escaped.String() + `</Message></Response>`))
}
