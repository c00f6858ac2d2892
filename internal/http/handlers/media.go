package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Twilio media scoped to one WhatsApp photo; anything bigger is not an order.
const maxMediaBytes = 8 << 20

// MediaFetcher downloads a webhook-referenced image and returns it base64
// encoded for the extraction pipeline.
type MediaFetcher interface {
	Fetch(ctx context.Context, mediaURL string) (string, error)
}

// TwilioMediaClient fetches media attachments using Twilio basic auth.
type TwilioMediaClient struct {
	httpClient *http.Client
	accountSID string
	authToken  string
}

func NewTwilioMediaClient(accountSID, authToken string) *TwilioMediaClient {
	return &TwilioMediaClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		accountSID: accountSID,
		authToken:  authToken,
	}
}

func (c *TwilioMediaClient) Fetch(ctx context.Context, mediaURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", fmt.Errorf("handlers: build media request: %w", err)
	}
	if c.accountSID != "" {
		req.SetBasicAuth(c.accountSID, c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("handlers: fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("handlers: fetch media: unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return "", fmt.Errorf("handlers: read media body: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
