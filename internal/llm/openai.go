package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// GroqBaseURL is the OpenAI-compatible endpoint for Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIClient completes prompts with any OpenAI-compatible chat
// completions endpoint (OpenAI, Groq).
type OpenAIClient struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a client. An empty baseURL means api.openai.com.
func NewOpenAIClient(apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		logger: logger.With("provider", "openai", "base_url", cfg.BaseURL),
	}
}

// Complete implements Client. The prompt is sent as one user message.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		}},
		Stop:        req.Stop,
		MaxTokens:   maxTokens(req),
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion %s: %w", req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	c.logger.Debug("completion done",
		"model", req.Model,
		"finish_reason", choice.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed", time.Since(start),
	)
	return &Completion{
		Text:         choice.Message.Content,
		Model:        req.Model,
		Provider:     "openai",
		StopReason:   string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     time.Since(start),
	}, nil
}
