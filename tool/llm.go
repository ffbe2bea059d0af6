package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kinos-ai/kinos/config"
)

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMClient generates text for research agents. The orchestrator never
// inspects message content, only success or failure.
type LLMClient interface {
	GenerateResponse(ctx context.Context, messages []Message, systemPrompt string) (string, error)
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
// Outbound requests share one token-bucket limiter so bursts of research
// agents cannot flood the provider.
type HTTPClient struct {
	cfg     config.LLMConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPClient creates the shared model client.
func NewHTTPClient(cfg config.LLMConfig, logger *zap.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	rps := cfg.RequestsPS
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With(zap.String("component", "llm"), zap.String("model", cfg.Model)),
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// GenerateResponse sends the conversation to the provider and returns the
// first choice's content. Blocks on the shared limiter before sending.
func (c *HTTPClient) GenerateResponse(ctx context.Context, messages []Message, systemPrompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limiter: %w", err)
	}

	all := make([]Message, 0, len(messages)+1)
	if systemPrompt != "" {
		all = append(all, Message{Role: "system", Content: systemPrompt})
	}
	all = append(all, messages...)

	body, err := json.Marshal(chatRequest{Model: c.cfg.Model, Messages: all})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/chat/completions", strings.TrimRight(c.cfg.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parse chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := ""
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("chat request failed: status=%d msg=%s", resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}

	c.logger.Debug("llm response received",
		zap.Duration("latency", time.Since(start)),
		zap.Int("messages", len(all)),
	)
	return parsed.Choices[0].Message.Content, nil
}
