// Package notify hands an in-progress intake over to a human operator. The
// handoff is best-effort: failures are logged and never change the reply
// already sent to the patient.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alia-labs/lab-intake-platform/pkg/logging"
)

// Snapshot is the session state pushed to the operator service. Field names
// follow the operator service's existing contract.
type Snapshot struct {
	Name          string `json:"nombre"`
	Address       string `json:"direccion"`
	Locality      string `json:"localidad"`
	BirthDate     string `json:"fecha_nacimiento"`
	InsurancePlan string `json:"cobertura"`
	MemberID      string `json:"afiliado"`
	Phone         string `json:"telefono_paciente"`
	AttentionType string `json:"tipo_atencion"`
	ImagePayload  string `json:"imagen_base64,omitempty"`
	Reason        string `json:"motivo,omitempty"`
}

// Gateway pushes escalations to the operator webhook and optionally emails an
// alert.
type Gateway struct {
	webhookURL    string
	httpClient    *http.Client
	email         EmailSender
	operatorEmail string
	maxRetries    int
	backoff       time.Duration
	logger        *logging.Logger
}

// GatewayConfig controls the escalation gateway.
type GatewayConfig struct {
	WebhookURL    string
	OperatorEmail string
	Timeout       time.Duration
	MaxRetries    int
	Backoff       time.Duration
}

// NewGateway creates an escalation gateway. email may be nil.
func NewGateway(cfg GatewayConfig, email EmailSender, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	return &Gateway{
		webhookURL:    strings.TrimSpace(cfg.WebhookURL),
		httpClient:    &http.Client{Timeout: timeout},
		email:         email,
		operatorEmail: cfg.OperatorEmail,
		maxRetries:    maxRetries,
		backoff:       backoff,
		logger:        logger,
	}
}

// Escalate pushes the snapshot to the operator channel. The returned error is
// informational; callers log it and move on.
func (g *Gateway) Escalate(ctx context.Context, snap Snapshot) error {
	if g == nil {
		return nil
	}
	var firstErr error
	if g.webhookURL != "" {
		if err := g.postSnapshot(ctx, snap); err != nil {
			firstErr = err
			g.logger.Error("escalation webhook failed", "error", err, "phone", snap.Phone)
		}
	}
	if g.email != nil && g.operatorEmail != "" {
		if err := g.email.Send(ctx, EmailMessage{
			To:      g.operatorEmail,
			ToName:  "Operador",
			Subject: fmt.Sprintf("Derivación de intake: %s", snap.Phone),
			Body:    emailBody(snap),
		}); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			g.logger.Error("escalation email failed", "error", err, "phone", snap.Phone)
		}
	}
	return firstErr
}

func (g *Gateway) postSnapshot(ctx context.Context, snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("notify: marshal snapshot: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.webhookURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("notify: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("notify: operator service returned status %d", resp.StatusCode)
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return lastErr
			}
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("notify: post snapshot: %w", err)
		}
		if attempt < g.maxRetries {
			timer := time.NewTimer(g.backoff * time.Duration(1<<attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return lastErr
}

func emailBody(snap Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Se derivó un intake a operador.\n\n")
	fmt.Fprintf(&b, "Teléfono: %s\n", orNA(snap.Phone))
	fmt.Fprintf(&b, "Nombre: %s\n", orNA(snap.Name))
	fmt.Fprintf(&b, "Dirección: %s\n", orNA(snap.Address))
	fmt.Fprintf(&b, "Localidad: %s\n", orNA(snap.Locality))
	fmt.Fprintf(&b, "Fecha de nacimiento: %s\n", orNA(snap.BirthDate))
	fmt.Fprintf(&b, "Cobertura: %s\n", orNA(snap.InsurancePlan))
	fmt.Fprintf(&b, "Afiliado: %s\n", orNA(snap.MemberID))
	fmt.Fprintf(&b, "Tipo de atención: %s\n", orNA(snap.AttentionType))
	if snap.Reason != "" {
		fmt.Fprintf(&b, "Motivo: %s\n", snap.Reason)
	}
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "No disponible"
	}
	return s
}
