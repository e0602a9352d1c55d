// Package openai is a chat completion client for OpenAI-compatible endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"intellichat/internal/generation"
)

const provider = "openai"

// Config configures the chat client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	MaxTokens   int
	Temperature float64
	MaxRetries  int
}

// Client implements generation.Generator.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	maxRetries  int
	retryBase   time.Duration
	client      *http.Client
}

// ChatMessage is one message of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the request body of /chat/completions.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

// ChatCompletionResponse is the subset of the response that is used.
type ChatCompletionResponse struct {
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewClient creates a chat client. The API key is read from cfg.APIKeyEnv.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      key,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		retryBase:   500 * time.Millisecond,
		// deadlines come from the caller's context
		client: &http.Client{},
	}, nil
}

// Name returns the provider and model.
func (c *Client) Name() string { return provider + ":" + c.model }

// Generate sends one chat completion request, retrying transient failures.
func (c *Client) Generate(ctx context.Context, req generation.Request) (string, error) {
	body := ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", generation.Wrap(generation.KindInvalidResponse, provider, "failed to marshal request", err)
	}

	var answer string
	op := func() error {
		a, err := c.send(ctx, data)
		if err != nil {
			var ge *generation.Error
			if errors.As(err, &ge) && !ge.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		answer = a
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBase
	b.MaxInterval = 5 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)); err != nil {
		if ctx.Err() != nil {
			return "", generation.Wrap(generation.KindTimeout, provider, "request cancelled", err)
		}
		return "", err
	}
	return answer, nil
}

func (c *Client) send(ctx context.Context, data []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", generation.Wrap(generation.KindNetwork, provider, "failed to create request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", generation.Wrap(generation.KindTimeout, provider, "request timed out", err)
		}
		return "", generation.Wrap(generation.KindNetwork, provider, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", generation.Wrap(generation.KindNetwork, provider, "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, payload)
	}

	var out ChatCompletionResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", generation.Wrap(generation.KindInvalidResponse, provider, "failed to decode response", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", generation.NewError(generation.KindEmpty, provider, "no completion returned")
	}
	return out.Choices[0].Message.Content, nil
}

func statusError(status int, payload []byte) error {
	var er errorResponse
	_ = json.Unmarshal(payload, &er)
	message := er.Error.Message
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", status)
	}

	var kind generation.Kind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = generation.KindAuth
	case status == http.StatusTooManyRequests && er.Error.Code == "insufficient_quota":
		kind = generation.KindQuota
	case status == http.StatusTooManyRequests:
		kind = generation.KindRateLimit
	case status >= 500:
		kind = generation.KindServer
	default:
		kind = generation.KindInvalidResponse
	}
	e := generation.NewError(kind, provider, message)
	e.StatusCode = status
	return e
}
