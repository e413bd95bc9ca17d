package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaClient completes prompts with a local Ollama server through
// /api/generate.
type OllamaClient struct {
	client *ollama.Client
	logger *slog.Logger
}

// NewOllamaClient creates a client for the server at baseURL.
func NewOllamaClient(baseURL string, httpClient *http.Client, logger *slog.Logger) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		client: ollama.NewClient(u, httpClient),
		logger: logger.With("provider", "ollama"),
	}, nil
}

// Ping checks that the Ollama server is up.
func (c *OllamaClient) Ping(ctx context.Context) error {
	return c.client.Heartbeat(ctx)
}

// Complete implements Client.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	start := time.Now()
	stream := false
	options := map[string]any{
		"num_predict": maxTokens(req),
		"temperature": req.Temperature,
	}
	if len(req.Stop) > 0 {
		options["stop"] = req.Stop
	}

	var (
		text strings.Builder
		last ollama.GenerateResponse
	)
	err := c.client.Generate(ctx, &ollama.GenerateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Stream:  &stream,
		Options: options,
	}, func(gr ollama.GenerateResponse) error {
		text.WriteString(gr.Response)
		last = gr
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama generate %s: %w", req.Model, err)
	}

	c.logger.Debug("completion done",
		"model", req.Model,
		"done_reason", last.DoneReason,
		"prompt_tokens", last.PromptEvalCount,
		"eval_tokens", last.EvalCount,
		"elapsed", time.Since(start),
	)
	return &Completion{
		Text:         text.String(),
		Model:        req.Model,
		Provider:     "ollama",
		StopReason:   last.DoneReason,
		InputTokens:  last.PromptEvalCount,
		OutputTokens: last.EvalCount,
		Duration:     time.Since(start),
	}, nil
}
