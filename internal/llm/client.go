// Package llm wraps the language-model service behind a narrow interface.
// Calls are synchronous with a timeout and a small bounded retry count; they
// do not support cancellation beyond the request context.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/alia-labs/lab-intake-platform/pkg/logging"
)

// Client is the narrow completion interface the intake core depends on.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config controls the OpenAI-backed client.
type Config struct {
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// OpenAIClient implements Client on top of the OpenAI chat API.
type OpenAIClient struct {
	chat       chatClient
	model      string
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
}

// NewOpenAIClient creates a client for the given API key.
func NewOpenAIClient(apiKey string, cfg Config, logger *logging.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: API key is required")
	}
	return newOpenAIClient(openai.NewClient(apiKey), cfg, logger), nil
}

func newOpenAIClient(chat chatClient, cfg Config, logger *logging.Logger) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 750 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OpenAIClient{
		chat:       chat,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		logger:     logger,
	}
}

// Complete sends a system+user prompt pair and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.chat.CreateChatCompletion(callCtx, req)
		cancel()
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", errors.New("llm: completion returned no choices")
			}
			return resp.Choices[0].Message.Content, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		if !shouldRetry(err) || attempt == c.maxRetries {
			break
		}
		c.logger.Warn("llm retry", "attempt", attempt+1, "error", err)
		if sleepErr := sleep(ctx, c.backoff*time.Duration(1<<attempt)); sleepErr != nil {
			return "", sleepErr
		}
	}
	return "", fmt.Errorf("llm: completion failed: %w", lastErr)
}

func shouldRetry(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
