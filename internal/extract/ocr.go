package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/alia-labs/lab-intake-platform/pkg/logging"
)

// OCRService recognizes text in a base64-encoded image.
type OCRService interface {
	Recognize(ctx context.Context, imageBase64 string) (string, error)
}

// OCRConfig controls the HTTP OCR client.
type OCRConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
}

// OCRClient posts images to the external text-recognition service.
type OCRClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
}

// NewOCRClient creates an OCR client with sane defaults.
func NewOCRClient(cfg OCRConfig, logger *logging.Logger) (*OCRClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("extract: OCR base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OCRClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}, nil
}

type ocrRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type ocrResponse struct {
	Text string `json:"text"`
}

// Recognize extracts text from the image. Empty text counts as a failed
// attempt; after all retries it returns ErrEmptyOCR.
func (c *OCRClient) Recognize(ctx context.Context, imageBase64 string) (string, error) {
	body, err := json.Marshal(ocrRequest{ImageBase64: imageBase64})
	if err != nil {
		return "", fmt.Errorf("extract: marshal ocr request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		text, err := c.call(ctx, body)
		if err == nil {
			if strings.TrimSpace(text) != "" {
				return text, nil
			}
			lastErr = ErrEmptyOCR
		} else {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			if !retryableOCR(err) {
				break
			}
		}
		if attempt < c.maxRetries {
			c.logger.Warn("ocr retry", "attempt", attempt+1, "error", lastErr)
			timer := time.NewTimer(c.backoff * time.Duration(1<<attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}
	}
	return "", lastErr
}

type ocrStatusError struct {
	status int
}

func (e *ocrStatusError) Error() string {
	return fmt.Sprintf("extract: ocr service returned status %d", e.status)
}

func retryableOCR(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var statusErr *ocrStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status == http.StatusTooManyRequests || statusErr.status >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func (c *OCRClient) call(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("extract: build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("extract: ocr http error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("extract: read ocr response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ocrStatusError{status: resp.StatusCode}
	}

	var out ocrResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("extract: decode ocr response: %w", err)
	}
	return out.Text, nil
}
